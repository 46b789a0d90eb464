package account

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/feed"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

// Listener is notified after the mirror changes, e.g. by a search index.
type Listener interface {
	OnDataUpdated(feed *storage.Feed, articles []*storage.Article)
	OnFeedDeleted(feedID string)
}

// IngestResult reports how a downloaded document changed the mirror.
type IngestResult struct {
	New     []*storage.Article
	Updated []*storage.Article
	Deleted []*storage.Article
}

func (r *IngestResult) Empty() bool {
	return len(r.New) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// Mirror is the local copy of one account's feeds, folders and articles.
// Backends change it only through these helpers so listeners stay current.
type Mirror struct {
	accountID string
	store     *storage.Store

	mu        sync.RWMutex
	listeners []Listener
}

func NewMirror(accountID string, store *storage.Store) *Mirror {
	return &Mirror{accountID: accountID, store: store}
}

func (m *Mirror) AccountID() string     { return m.accountID }
func (m *Mirror) Store() *storage.Store { return m.store }

func (m *Mirror) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Mirror) notifyUpdated(f *storage.Feed, articles []*storage.Article) {
	if len(articles) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listeners {
		l.OnDataUpdated(f, articles)
	}
}

func (m *Mirror) notifyDeleted(feedIDs []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listeners {
		for _, id := range feedIDs {
			l.OnFeedDeleted(id)
		}
	}
}

// Feeds

// NewFeed builds an unsaved feed owned by this account.
func (m *Mirror) NewFeed(url, name string) *storage.Feed {
	return &storage.Feed{
		ID:        feed.GenerateFeedID(url),
		AccountID: m.accountID,
		URL:       url,
		Name:      name,
		UpdatedAt: time.Now(),
	}
}

func (m *Mirror) SaveFeed(f *storage.Feed) error {
	f.AccountID = m.accountID
	return m.store.SaveFeed(f)
}

func (m *Mirror) Feed(id string) (*storage.Feed, error) {
	return m.store.GetFeed(id)
}

// FeedByExternalID returns nil when no feed matches.
func (m *Mirror) FeedByExternalID(externalID string) (*storage.Feed, error) {
	return optional(m.store.GetFeedByExternalID(externalID))
}

// FeedByURL returns nil when no feed matches.
func (m *Mirror) FeedByURL(url string) (*storage.Feed, error) {
	return optional(m.store.GetFeedByURL(url))
}

func (m *Mirror) HasFeedWithURL(url string) (bool, error) {
	f, err := m.FeedByURL(url)
	return f != nil, err
}

// FlattenedFeeds returns every feed regardless of container.
func (m *Mirror) FlattenedFeeds() ([]*storage.Feed, error) {
	return m.store.AllFeeds()
}

// FeedsInContainer returns the feeds whose container is folderID.
func (m *Mirror) FeedsInContainer(folderID string) ([]*storage.Feed, error) {
	all, err := m.store.AllFeeds()
	if err != nil {
		return nil, err
	}
	var feeds []*storage.Feed
	for _, f := range all {
		if f.FolderID == folderID {
			feeds = append(feeds, f)
		}
	}
	return feeds, nil
}

// AddFeedToContainer places feed in folderID and saves it.
func (m *Mirror) AddFeedToContainer(f *storage.Feed, folderID string) error {
	if folderID != "" {
		if _, err := m.store.GetFolder(folderID); err != nil {
			return syncerr.Wrap(syncerr.InvalidParameter, "adding feed to folder", err)
		}
	}
	f.FolderID = folderID
	return m.SaveFeed(f)
}

// RemoveFeedFromContainer drops feed from folderID. A feed has a single
// container, so this removes the feed and its articles.
func (m *Mirror) RemoveFeedFromContainer(f *storage.Feed, folderID string) error {
	if f.FolderID != folderID {
		debuglog.Warnf("feed %s is not in container %q", f.ID, folderID)
		return nil
	}
	return m.RemoveFeeds([]string{f.ID})
}

// MoveFeedBetween reassigns feed's container in one write. On error the
// mirror is unchanged.
func (m *Mirror) MoveFeedBetween(f *storage.Feed, from, to string) error {
	if err := m.store.MoveFeed(f.ID, from, to); err != nil {
		return syncerr.Wrap(syncerr.InvalidParameter, "moving feed", err)
	}
	f.FolderID = to
	return nil
}

func (m *Mirror) RemoveFeeds(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.store.DeleteFeeds(ids); err != nil {
		return err
	}
	m.notifyDeleted(ids)
	return nil
}

// Folders

func (m *Mirror) Folder(id string) (*storage.Folder, error) {
	return m.store.GetFolder(id)
}

// FolderByName returns nil when no folder matches.
func (m *Mirror) FolderByName(name string) (*storage.Folder, error) {
	return optional(m.store.GetFolderByName(name))
}

// FolderByExternalID returns nil when no folder matches.
func (m *Mirror) FolderByExternalID(externalID string) (*storage.Folder, error) {
	return optional(m.store.GetFolderByExternalID(externalID))
}

func (m *Mirror) Folders() ([]*storage.Folder, error) {
	return m.store.AllFolders()
}

// EnsureFolder returns the folder called name, creating it if needed. A
// known externalID is recorded on an existing folder that lacks one.
func (m *Mirror) EnsureFolder(name, externalID string) (*storage.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, syncerr.New(syncerr.InvalidParameter, "creating folder", "empty folder name")
	}
	existing, err := m.FolderByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ExternalID == "" && externalID != "" {
			existing.ExternalID = externalID
			if err := m.store.SaveFolder(existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	folder := &storage.Folder{
		ID:         uuid.NewString(),
		AccountID:  m.accountID,
		Name:       name,
		ExternalID: externalID,
	}
	if err := m.store.SaveFolder(folder); err != nil {
		return nil, err
	}
	return folder, nil
}

func (m *Mirror) SaveFolder(folder *storage.Folder) error {
	folder.AccountID = m.accountID
	return m.store.SaveFolder(folder)
}

// RemoveFolder deletes folder together with the feeds it holds.
func (m *Mirror) RemoveFolder(folder *storage.Folder) error {
	feeds, err := m.FeedsInContainer(folder.ID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteFolder(folder.ID); err != nil {
		return err
	}
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}
	m.notifyDeleted(ids)
	return nil
}

// RemoveAllFoldersAndFeeds empties the mirror, e.g. after the remote zone
// holding the subscriptions was deleted.
func (m *Mirror) RemoveAllFoldersAndFeeds() error {
	feeds, err := m.store.AllFeeds()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}
	if err := m.RemoveFeeds(ids); err != nil {
		return err
	}
	folders, err := m.store.AllFolders()
	if err != nil {
		return err
	}
	for _, folder := range folders {
		if err := m.store.DeleteFolder(folder.ID); err != nil {
			return err
		}
	}
	return nil
}

// Articles

// UpdateFeedArticles applies a downloaded document of f. With deleteMissing,
// articles no longer in the document are deleted unless starred.
func (m *Mirror) UpdateFeedArticles(f *storage.Feed, incoming []*storage.Article, deleteMissing bool) (*IngestResult, error) {
	existing, err := m.store.GetArticles(f.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading articles of %s: %w", f.ID, err)
	}
	known := make(map[string]*storage.Article, len(existing))
	for _, a := range existing {
		known[a.ID] = a
	}

	result := &IngestResult{}
	seen := make(map[string]bool, len(incoming))
	for _, a := range incoming {
		a.AccountID = m.accountID
		a.FeedID = f.ID
		seen[a.ID] = true
		old, ok := known[a.ID]
		switch {
		case !ok:
			result.New = append(result.New, a)
		case articleChanged(old, a):
			result.Updated = append(result.Updated, a)
		}
	}

	if deleteMissing {
		starred, err := m.store.ArticleIDsWithStatus(storage.StatusStarred, true)
		if err != nil {
			return nil, err
		}
		for _, a := range existing {
			if !seen[a.ID] && !starred[a.ID] {
				result.Deleted = append(result.Deleted, a)
			}
		}
	}

	changed := append(append([]*storage.Article{}, result.New...), result.Updated...)
	if err := m.store.SaveArticles(changed); err != nil {
		return nil, fmt.Errorf("saving articles: %w", err)
	}
	if len(result.Deleted) > 0 {
		ids := make([]string, 0, len(result.Deleted))
		for _, a := range result.Deleted {
			ids = append(ids, a.ID)
		}
		if err := m.store.DeleteArticles(ids); err != nil {
			return nil, fmt.Errorf("deleting articles: %w", err)
		}
	}

	f.UpdatedAt = time.Now()
	if err := m.SaveFeed(f); err != nil {
		return nil, err
	}
	m.notifyUpdated(f, changed)
	return result, nil
}

// IngestArticles saves articles delivered by a backend API rather than a
// feed document, and returns the ones that were not known before.
func (m *Mirror) IngestArticles(articles []*storage.Article) ([]*storage.Article, error) {
	var fresh []*storage.Article
	byFeed := make(map[string][]*storage.Article)
	for _, a := range articles {
		a.AccountID = m.accountID
		if _, err := m.store.GetArticle(a.ID); errors.Is(err, storage.ErrNotFound) {
			fresh = append(fresh, a)
		} else if err != nil {
			return nil, err
		}
		byFeed[a.FeedID] = append(byFeed[a.FeedID], a)
	}
	if err := m.store.SaveArticles(articles); err != nil {
		return nil, err
	}
	for feedID, batch := range byFeed {
		f, err := m.store.GetFeed(feedID)
		if err != nil {
			f = nil
		}
		m.notifyUpdated(f, batch)
	}
	return fresh, nil
}

func articleChanged(old, updated *storage.Article) bool {
	return old.Title != updated.Title ||
		old.Content != updated.Content ||
		old.URL != updated.URL ||
		!old.Updated.Equal(updated.Updated)
}

// Statuses

// UpdateStatuses sets key to flag and returns the ids that changed.
func (m *Mirror) UpdateStatuses(ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	return m.store.UpdateStatuses(ids, key, flag)
}

func (m *Mirror) MarkAsRead(ids []string) ([]string, error) {
	return m.UpdateStatuses(ids, storage.StatusRead, true)
}

func (m *Mirror) MarkAsUnread(ids []string) ([]string, error) {
	return m.UpdateStatuses(ids, storage.StatusRead, false)
}

func (m *Mirror) MarkAsStarred(ids []string) ([]string, error) {
	return m.UpdateStatuses(ids, storage.StatusStarred, true)
}

func (m *Mirror) MarkAsUnstarred(ids []string) ([]string, error) {
	return m.UpdateStatuses(ids, storage.StatusStarred, false)
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
