package storage

import (
	bolt "go.etcd.io/bbolt"
)

// ChangeToken returns the opaque token for zone, or nil when the zone has
// never been synced or was reset.
func (s *Store) ChangeToken(zone string) ([]byte, error) {
	var token []byte
	err := s.view(func(tx *bolt.Tx) error {
		if v := tx.Bucket(tokensBucket).Get([]byte(zone)); v != nil {
			token = append([]byte(nil), v...)
		}
		return nil
	})
	return token, err
}

func (s *Store) SetChangeToken(zone string, token []byte) error {
	if len(token) == 0 {
		return s.ResetChangeToken(zone)
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(zone), token)
	})
}

// ResetChangeToken forgets the zone's token so the next fetch is a full one.
func (s *Store) ResetChangeToken(zone string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(zone))
	})
}
