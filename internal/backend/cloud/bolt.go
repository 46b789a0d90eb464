package cloud

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	zoneMetaBucket    = []byte("meta")
	zoneRecordsBucket = []byte("records")
	zoneLogBucket     = []byte("log")

	epochKey   = []byte("epoch")
	seqKey     = []byte("seq")
	deletedKey = []byte("deleted")
)

// BoltDatabase is a Database kept in a bbolt file, so several processes
// taking turns on the same file see each other's changes. Each zone is a
// top-level bucket holding its records and a change log keyed by sequence.
type BoltDatabase struct {
	db       *bolt.DB
	pageSize int
}

var _ Database = (*BoltDatabase)(nil)

func OpenBoltDatabase(path string, timeout time.Duration) (*BoltDatabase, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening cloud database: %w", err)
	}
	return &BoltDatabase{db: db, pageSize: defaultPageSize}, nil
}

func (b *BoltDatabase) Close() error { return b.db.Close() }

// SetPageSize bounds the number of changes returned per FetchChanges.
func (b *BoltDatabase) SetPageSize(n int) {
	if n > 0 {
		b.pageSize = n
	}
}

func seqBytes(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func zoneSeq(meta *bolt.Bucket) uint64 {
	data := meta.Get(seqKey)
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func zoneDeleted(meta *bolt.Bucket) bool {
	return len(meta.Get(deletedKey)) > 0
}

// liveZone returns the zone bucket, or ErrZoneNotFound when it is missing
// or was deleted.
func liveZone(tx *bolt.Tx, zone string) (*bolt.Bucket, error) {
	zb := tx.Bucket([]byte(zone))
	if zb == nil || zoneDeleted(zb.Bucket(zoneMetaBucket)) {
		return nil, ErrZoneNotFound
	}
	return zb, nil
}

func (b *BoltDatabase) CreateZone(ctx context.Context, zone string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if zb := tx.Bucket([]byte(zone)); zb != nil {
			if !zoneDeleted(zb.Bucket(zoneMetaBucket)) {
				return nil
			}
			if err := tx.DeleteBucket([]byte(zone)); err != nil {
				return err
			}
		}
		zb, err := tx.CreateBucket([]byte(zone))
		if err != nil {
			return err
		}
		meta, err := zb.CreateBucket(zoneMetaBucket)
		if err != nil {
			return err
		}
		if _, err := zb.CreateBucket(zoneRecordsBucket); err != nil {
			return err
		}
		if _, err := zb.CreateBucket(zoneLogBucket); err != nil {
			return err
		}
		if err := meta.Put(epochKey, []byte(uuid.NewString())); err != nil {
			return err
		}
		return meta.Put(seqKey, seqBytes(0))
	})
}

// DeleteZone removes the zone's records and history, leaving a marker so
// clients holding a token see ErrUserDeletedZone.
func (b *BoltDatabase) DeleteZone(zone string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		zb := tx.Bucket([]byte(zone))
		if zb == nil {
			return nil
		}
		for _, name := range [][]byte{zoneRecordsBucket, zoneLogBucket} {
			if err := zb.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := zb.CreateBucket(name); err != nil {
				return err
			}
		}
		return zb.Bucket(zoneMetaBucket).Put(deletedKey, []byte{1})
	})
}

func (b *BoltDatabase) FetchChanges(ctx context.Context, zone string, token []byte) (*ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cs *ChangeSet
	err := b.db.View(func(tx *bolt.Tx) error {
		if zb := tx.Bucket([]byte(zone)); zb != nil && token != nil && zoneDeleted(zb.Bucket(zoneMetaBucket)) {
			return ErrUserDeletedZone
		}
		zb, err := liveZone(tx, zone)
		if err != nil {
			return err
		}
		meta := zb.Bucket(zoneMetaBucket)
		epoch := string(meta.Get(epochKey))
		records := zb.Bucket(zoneRecordsBucket)

		if token == nil {
			cs = &ChangeSet{Token: encodeToken(epoch, zoneSeq(meta))}
			return records.ForEach(func(_, v []byte) error {
				var r Record
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				cs.Updated = append(cs.Updated, &r)
				return nil
			})
		}

		tokenEpoch, after, err := decodeToken(token)
		if err != nil || tokenEpoch != epoch {
			return ErrChangeTokenExpired
		}

		cs = &ChangeSet{}
		seen := make(map[string]bool)
		last := after
		c := zb.Bucket(zoneLogBucket).Cursor()
		for k, v := c.Seek(seqBytes(after + 1)); k != nil; k, v = c.Next() {
			if len(seen) == b.pageSize {
				cs.MoreComing = true
				break
			}
			last = binary.BigEndian.Uint64(k)
			id := string(v)
			if seen[id] {
				continue
			}
			seen[id] = true
			data := records.Get(v)
			if data == nil {
				cs.Deleted = append(cs.Deleted, id)
				continue
			}
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			cs.Updated = append(cs.Updated, &r)
		}
		cs.Token = encodeToken(epoch, last)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (b *BoltDatabase) Fetch(ctx context.Context, zone, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		zb, err := liveZone(tx, zone)
		if err != nil {
			return err
		}
		r, err = getRecord(zb.Bucket(zoneRecordsBucket), id)
		if err == nil && r == nil {
			return ErrRecordNotFound
		}
		return err
	})
	return r, err
}

func getRecord(records *bolt.Bucket, id string) (*Record, error) {
	data := records.Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &r, nil
}

func (b *BoltDatabase) Query(ctx context.Context, zone string, filter Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Record
	err := b.db.View(func(tx *bolt.Tx) error {
		zb, err := liveZone(tx, zone)
		if err != nil {
			return err
		}
		return zb.Bucket(zoneRecordsBucket).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if filter.Match(&r) {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

// appendChange bumps the zone sequence and logs id under it.
func appendChange(zb *bolt.Bucket, id string) error {
	meta := zb.Bucket(zoneMetaBucket)
	seq := zoneSeq(meta) + 1
	if err := zb.Bucket(zoneLogBucket).Put(seqBytes(seq), []byte(id)); err != nil {
		return err
	}
	return meta.Put(seqKey, seqBytes(seq))
}

func (b *BoltDatabase) Save(ctx context.Context, zone string, records []*Record, create bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	return b.db.Update(func(tx *bolt.Tx) error {
		zb, err := liveZone(tx, zone)
		if err != nil {
			return err
		}
		rb := zb.Bucket(zoneRecordsBucket)
		if create {
			for _, r := range records {
				existing, err := getRecord(rb, r.ID)
				if err != nil {
					return err
				}
				if existing != nil {
					return &ConflictError{Server: existing}
				}
			}
		}
		for _, r := range records {
			existing, err := getRecord(rb, r.ID)
			if err != nil {
				return err
			}
			data, err := json.Marshal(merge(existing, r, now))
			if err != nil {
				return err
			}
			if err := rb.Put([]byte(r.ID), data); err != nil {
				return err
			}
			if err := appendChange(zb, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltDatabase) Delete(ctx context.Context, zone string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		zb, err := liveZone(tx, zone)
		if err != nil {
			return err
		}
		rb := zb.Bucket(zoneRecordsBucket)
		for _, id := range ids {
			if rb.Get([]byte(id)) == nil {
				continue
			}
			if err := rb.Delete([]byte(id)); err != nil {
				return err
			}
			if err := appendChange(zb, id); err != nil {
				return err
			}
		}
		return nil
	})
}
