package storage

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

func syncStatusKey(articleID string, key StatusKey) []byte {
	k := make([]byte, 0, len(articleID)+1+len(key))
	k = append(k, articleID...)
	k = append(k, 0)
	return append(k, key...)
}

// InsertStatuses enqueues pending mutations. Each (article, key) holds at most
// one row:
//   - for read/starred, an unselected row with the opposite flag cancels out
//     and is removed, unless it is sticky,
//   - an unselected row with the same flag is refreshed,
//   - an in-flight row is replaced by a new sticky row with a new Seq, so
//     acknowledging the in-flight copy leaves the newer value pending and a
//     failed send of the in-flight copy cannot be cancelled away.
//
// The write is committed before InsertStatuses returns.
func (s *Store) InsertStatuses(statuses []SyncStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	now := time.Now()
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncStatusBucket)
		for _, st := range statuses {
			k := syncStatusKey(st.ArticleID, st.Key)

			var existing SyncStatus
			found, err := getJSON(b, k, &existing)
			if err != nil {
				return err
			}
			if found && !existing.Selected && !existing.Sticky && existing.Flag != st.Flag && st.Key.Toggles() {
				if err := b.Delete(k); err != nil {
					return err
				}
				continue
			}

			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			row := SyncStatus{
				ArticleID:  st.ArticleID,
				Key:        st.Key,
				Flag:       st.Flag,
				Seq:        seq,
				EnqueuedAt: now,
				Sticky:     found && (existing.Selected || existing.Sticky),
			}
			if err := putJSON(b, k, &row); err != nil {
				return err
			}
		}
		return nil
	})
}

// SelectForProcessing returns up to limit pending rows (all when limit <= 0)
// and marks them in flight in the same transaction, so a concurrent caller
// never receives the same rows.
func (s *Store) SelectForProcessing(limit int) ([]SyncStatus, error) {
	var selected []SyncStatus
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncStatusBucket)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if limit > 0 && len(selected) >= limit {
				return nil
			}
			var st SyncStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.Selected {
				return nil
			}
			keys = append(keys, append([]byte(nil), k...))
			selected = append(selected, st)
			return nil
		})
		if err != nil {
			return err
		}
		for i := range selected {
			selected[i].Selected = true
			if err := putJSON(b, keys[i], &selected[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// DeleteSelected acknowledges rows. A row is removed only if its Seq still
// matches, leaving any newer superseding mutation in place.
func (s *Store) DeleteSelected(statuses []SyncStatus) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncStatusBucket)
		for _, st := range statuses {
			k := syncStatusKey(st.ArticleID, st.Key)
			var existing SyncStatus
			found, err := getJSON(b, k, &existing)
			if err != nil {
				return err
			}
			if !found || existing.Seq != st.Seq {
				continue
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetSelected returns the given in-flight rows to pending.
func (s *Store) ResetSelected(statuses []SyncStatus) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncStatusBucket)
		for _, st := range statuses {
			k := syncStatusKey(st.ArticleID, st.Key)
			var existing SyncStatus
			found, err := getJSON(b, k, &existing)
			if err != nil {
				return err
			}
			if !found || existing.Seq != st.Seq || !existing.Selected {
				continue
			}
			existing.Selected = false
			if err := putJSON(b, k, &existing); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetAllSelected clears the in-flight marker on every row. Used at startup
// and on resume to recover from an interrupted pass.
func (s *Store) ResetAllSelected() error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncStatusBucket)
		var keys [][]byte
		var rows []SyncStatus
		err := b.ForEach(func(k, v []byte) error {
			var st SyncStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.Selected {
				st.Selected = false
				keys = append(keys, append([]byte(nil), k...))
				rows = append(rows, st)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range rows {
			if err := putJSON(b, keys[i], &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingCount counts rows not currently in flight.
func (s *Store) PendingCount() (int, error) {
	count := 0
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(syncStatusBucket).ForEach(func(_, v []byte) error {
			var st SyncStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if !st.Selected {
				count++
			}
			return nil
		})
	})
	return count, err
}

// PendingArticleIDs returns ids with a queued mutation for key, in flight or
// not. Remote status pulls skip these so local edits are not overwritten.
func (s *Store) PendingArticleIDs(key StatusKey) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(syncStatusBucket).ForEach(func(_, v []byte) error {
			var st SyncStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.Key == key {
				ids[st.ArticleID] = true
			}
			return nil
		})
	})
	return ids, err
}

// AllSyncStatuses returns every queued row, for diagnostics.
func (s *Store) AllSyncStatuses() ([]SyncStatus, error) {
	var rows []SyncStatus
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(syncStatusBucket).ForEach(func(_, v []byte) error {
			var st SyncStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			rows = append(rows, st)
			return nil
		})
	})
	return rows, err
}
