package storage

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

// ConditionalGet returns the validator stored for key, or nil.
func (s *Store) ConditionalGet(key string) (*ConditionalGetInfo, error) {
	var info ConditionalGetInfo
	var found bool
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(conditionalBucket), []byte(key), &info)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SetConditionalGet overwrites the validator for key. An empty info is
// ignored so a response without validators does not erase a usable one.
func (s *Store) SetConditionalGet(key string, info *ConditionalGetInfo) error {
	if info.IsEmpty() {
		return nil
	}
	stored := *info
	if stored.CapturedAt.IsZero() {
		stored.CapturedAt = time.Now()
	}
	return s.update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(conditionalBucket), []byte(key), &stored)
	})
}
