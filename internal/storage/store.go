package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pders01/fwrdsync/internal/syncerr"
)

var (
	feedsBucket       = []byte("feeds")
	foldersBucket     = []byte("folders")
	articlesBucket    = []byte("articles")
	statusesBucket    = []byte("statuses")
	syncStatusBucket  = []byte("sync_statuses")
	conditionalBucket = []byte("conditional_get")
	tokensBucket      = []byte("change_tokens")
	metaBucket        = []byte("metadata")

	allBuckets = [][]byte{
		feedsBucket, foldersBucket, articlesBucket, statusesBucket,
		syncStatusBucket, conditionalBucket, tokensBucket, metaBucket,
	}

	lastArticleFetchKey  = []byte("last_article_fetch")
	accountExternalIDKey = []byte("account_external_id")
)

// ErrNotFound is returned when a mirror record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable state of one account: the mirror, the pending
// mutation queue, the conditional-fetch cache and change tokens.
// It can be suspended (handle closed) and resumed.
type Store struct {
	mu      sync.RWMutex
	db      *bolt.DB
	path    string
	timeout time.Duration
}

func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	s := &Store{path: dbPath, timeout: timeout}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return syncerr.Wrap(syncerr.DurableStoreUnavailable, "opening database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return syncerr.Wrap(syncerr.DurableStoreUnavailable, "creating buckets", err)
	}

	s.db = db
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Suspend closes the database handle. Calls made while suspended fail with
// DurableStoreUnavailable until Resume.
func (s *Store) Suspend() error {
	return s.Close()
}

// Resume reopens the handle closed by Suspend. It is a no-op when open.
func (s *Store) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	return s.open()
}

// Suspended reports whether the handle is closed.
func (s *Store) Suspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db == nil
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return syncerr.ErrStoreUnavailable
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return syncerr.ErrStoreUnavailable
	}
	return s.db.Update(fn)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (s *Store) LastArticleFetch() (time.Time, error) {
	var t time.Time
	err := s.view(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(lastArticleFetchKey)
		if data == nil {
			return nil
		}
		return t.UnmarshalText(data)
	})
	return t, err
}

func (s *Store) SetLastArticleFetch(t time.Time) error {
	data, err := t.MarshalText()
	if err != nil {
		return fmt.Errorf("encoding time: %w", err)
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(lastArticleFetchKey, data)
	})
}

// AccountExternalID is the backend's id for the account root, or "".
func (s *Store) AccountExternalID() (string, error) {
	var id string
	err := s.view(func(tx *bolt.Tx) error {
		id = string(tx.Bucket(metaBucket).Get(accountExternalIDKey))
		return nil
	})
	return id, err
}

func (s *Store) SetAccountExternalID(id string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(accountExternalIDKey, []byte(id))
	})
}
