package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

func (s *Store) SaveFeed(feed *Feed) error {
	return s.update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(feedsBucket), []byte(feed.ID), feed)
	})
}

// SaveFeeds writes all feeds in one transaction.
func (s *Store) SaveFeeds(feeds []*Feed) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(feedsBucket)
		for _, feed := range feeds {
			if err := putJSON(b, []byte(feed.ID), feed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetFeed(id string) (*Feed, error) {
	var feed Feed
	err := s.view(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(feedsBucket), []byte(id), &feed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("feed %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func (s *Store) findFeed(match func(*Feed) bool) (*Feed, error) {
	var found *Feed
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(feedsBucket).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var feed Feed
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			if match(&feed) {
				found = &feed
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *Store) GetFeedByURL(url string) (*Feed, error) {
	return s.findFeed(func(f *Feed) bool { return strings.EqualFold(f.URL, url) })
}

func (s *Store) GetFeedByExternalID(externalID string) (*Feed, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return s.findFeed(func(f *Feed) bool { return f.ExternalID == externalID })
}

// AllFeeds returns every feed, sorted by display name.
func (s *Store) AllFeeds() ([]*Feed, error) {
	var feeds []*Feed
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(feedsBucket).ForEach(func(_ []byte, v []byte) error {
			var feed Feed
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			feeds = append(feeds, &feed)
			return nil
		})
	})
	sort.Slice(feeds, func(i, j int) bool {
		return strings.ToLower(feeds[i].DisplayName()) < strings.ToLower(feeds[j].DisplayName())
	})
	return feeds, err
}

// DeleteFeed removes the feed together with its articles and statuses.
func (s *Store) DeleteFeed(id string) error {
	return s.DeleteFeeds([]string{id})
}

func (s *Store) DeleteFeeds(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	return s.update(func(tx *bolt.Tx) error {
		return deleteFeedsTx(tx, doomed)
	})
}

func deleteFeedsTx(tx *bolt.Tx, doomed map[string]bool) error {
	feedBucket := tx.Bucket(feedsBucket)
	cache := tx.Bucket(conditionalBucket)
	for id := range doomed {
		// A resubscribed feed must be downloaded in full again.
		var feed Feed
		if ok, err := getJSON(feedBucket, []byte(id), &feed); err == nil && ok {
			if err := cache.Delete([]byte(feed.URL)); err != nil {
				return err
			}
		}
		if err := feedBucket.Delete([]byte(id)); err != nil {
			return err
		}
	}

	var articleKeys [][]byte
	err := tx.Bucket(articlesBucket).ForEach(func(k, v []byte) error {
		var article Article
		if err := json.Unmarshal(v, &article); err == nil && doomed[article.FeedID] {
			articleKeys = append(articleKeys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, name := range [][]byte{articlesBucket, statusesBucket} {
		b := tx.Bucket(name)
		for _, k := range articleKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) SaveFolder(folder *Folder) error {
	return s.update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(foldersBucket), []byte(folder.ID), folder)
	})
}

func (s *Store) GetFolder(id string) (*Folder, error) {
	var folder Folder
	err := s.view(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(foldersBucket), []byte(id), &folder)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (s *Store) AllFolders() ([]*Folder, error) {
	var folders []*Folder
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(foldersBucket).ForEach(func(_ []byte, v []byte) error {
			var folder Folder
			if err := json.Unmarshal(v, &folder); err != nil {
				return err
			}
			folders = append(folders, &folder)
			return nil
		})
	})
	sort.Slice(folders, func(i, j int) bool {
		return strings.ToLower(folders[i].Name) < strings.ToLower(folders[j].Name)
	})
	return folders, err
}

func (s *Store) findFolder(match func(*Folder) bool) (*Folder, error) {
	folders, err := s.AllFolders()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if match(f) {
			return f, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) GetFolderByName(name string) (*Folder, error) {
	return s.findFolder(func(f *Folder) bool { return strings.EqualFold(f.Name, name) })
}

func (s *Store) GetFolderByExternalID(externalID string) (*Folder, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return s.findFolder(func(f *Folder) bool { return f.ExternalID == externalID })
}

// DeleteFolder removes the folder and every feed it contains, in one write.
func (s *Store) DeleteFolder(id string) error {
	return s.update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(foldersBucket).Delete([]byte(id)); err != nil {
			return err
		}
		doomed := make(map[string]bool)
		err := tx.Bucket(feedsBucket).ForEach(func(k, v []byte) error {
			var feed Feed
			if err := json.Unmarshal(v, &feed); err == nil && feed.FolderID == id {
				doomed[string(k)] = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		return deleteFeedsTx(tx, doomed)
	})
}

// MoveFeed reassigns the feed's container in a single transaction. It fails
// without writing if the feed is not currently in from.
func (s *Store) MoveFeed(feedID, from, to string) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(feedsBucket)
		var feed Feed
		ok, err := getJSON(b, []byte(feedID), &feed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("feed %s: %w", feedID, ErrNotFound)
		}
		if feed.FolderID != from {
			return fmt.Errorf("feed %s is not in container %q", feedID, from)
		}
		if to != "" && tx.Bucket(foldersBucket).Get([]byte(to)) == nil {
			return fmt.Errorf("folder %s: %w", to, ErrNotFound)
		}
		feed.FolderID = to
		feed.UpdatedAt = time.Now()
		return putJSON(b, []byte(feedID), &feed)
	})
}

// SaveArticles writes article content. Articles without a status get an
// unread one stamped with now.
func (s *Store) SaveArticles(articles []*Article) error {
	now := time.Now()
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(articlesBucket)
		sb := tx.Bucket(statusesBucket)
		for _, article := range articles {
			if err := putJSON(b, []byte(article.ID), article); err != nil {
				return err
			}
			if sb.Get([]byte(article.ID)) == nil {
				st := ArticleStatus{ArticleID: article.ID, DateArrived: now}
				if err := putJSON(sb, []byte(article.ID), &st); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) GetArticle(id string) (*Article, error) {
	var article Article
	err := s.view(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(articlesBucket), []byte(id), &article)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("article %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetArticles returns articles of feedID (all feeds when empty), newest first.
func (s *Store) GetArticles(feedID string, limit int) ([]*Article, error) {
	var articles []*Article
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(articlesBucket)
		return b.ForEach(func(_ []byte, v []byte) error {
			var article Article
			if err := json.Unmarshal(v, &article); err != nil {
				return nil
			}
			if feedID == "" || article.FeedID == feedID {
				articles = append(articles, &article)
			}
			return nil
		})
	})
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].Published.After(articles[j].Published)
	})
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, err
}

// DeleteArticles removes content and status for the given ids.
func (s *Store) DeleteArticles(ids []string) error {
	return s.update(func(tx *bolt.Tx) error {
		ab := tx.Bucket(articlesBucket)
		sb := tx.Bucket(statusesBucket)
		for _, id := range ids {
			if err := ab.Delete([]byte(id)); err != nil {
				return err
			}
			if err := sb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetStatus(articleID string) (*ArticleStatus, error) {
	var st ArticleStatus
	err := s.view(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(statusesBucket), []byte(articleID), &st)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("status %s: %w", articleID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStatuses sets key to flag on every listed article, creating statuses
// as needed, and returns the ids whose flag actually changed.
func (s *Store) UpdateStatuses(articleIDs []string, key StatusKey, flag bool) ([]string, error) {
	var changed []string
	now := time.Now()
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(statusesBucket)
		for _, id := range articleIDs {
			st := ArticleStatus{ArticleID: id, DateArrived: now}
			if _, err := getJSON(b, []byte(id), &st); err != nil {
				return err
			}
			if !st.SetFlag(key, flag) {
				continue
			}
			if err := putJSON(b, []byte(id), &st); err != nil {
				return err
			}
			changed = append(changed, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// ArticleIDsWithStatus returns the ids whose key flag equals flag.
func (s *Store) ArticleIDsWithStatus(key StatusKey, flag bool) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(statusesBucket).ForEach(func(k, v []byte) error {
			var st ArticleStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.Flag(key) == flag {
				ids[string(k)] = true
			}
			return nil
		})
	})
	return ids, err
}

// StatusIDsWithoutArticles lists statuses that arrived after cutoff but have
// no downloaded content.
func (s *Store) StatusIDsWithoutArticles(cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.view(func(tx *bolt.Tx) error {
		ab := tx.Bucket(articlesBucket)
		return tx.Bucket(statusesBucket).ForEach(func(k, v []byte) error {
			if ab.Get(k) != nil {
				return nil
			}
			var st ArticleStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.DateArrived.After(cutoff) {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}
