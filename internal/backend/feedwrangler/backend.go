// Package feedwrangler syncs an account with Feed Wrangler. The service
// keeps a flat list of subscriptions, so folders are not supported.
package feedwrangler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
	"github.com/pders01/fwrdsync/internal/validation"
)

const (
	// refreshTasks is the number of steps of one pass.
	refreshTasks = 5
	// initialFetchWindow bounds the first article download.
	initialFetchWindow = 90 * 24 * time.Hour
	chunkConcurrency   = 4
)

type Options struct {
	FlushThreshold int
	ChunkSize      int
	URLValidator   *validation.FeedURLValidator
}

type Backend struct {
	mirror    *account.Mirror
	caller    *Caller
	tracker   *progress.Tracker
	flusher   *account.Flusher
	chunkSize int
	validator *validation.FeedURLValidator
}

var _ account.Backend = (*Backend)(nil)

func New(mirror *account.Mirror, t transport.Transport, cfg Config, opts Options) *Backend {
	b := &Backend{
		mirror:    mirror,
		caller:    NewCaller(t, cfg),
		tracker:   progress.NewTracker(),
		chunkSize: opts.ChunkSize,
		validator: opts.URLValidator,
	}
	if b.chunkSize <= 0 {
		b.chunkSize = account.DefaultChunkSize
	}
	if b.validator == nil {
		b.validator = validation.NewFeedURLValidator()
	}
	b.flusher = account.NewFlusher(mirror, opts.FlushThreshold, b.SendArticleStatus)
	return b
}

// ValidateCredentials returns a check that authorizes against cfg.
func ValidateCredentials(cfg Config) account.ValidateFunc {
	return func(ctx context.Context, t transport.Transport, creds *transport.Credentials) (*transport.Credentials, error) {
		return NewCaller(t, cfg).Login(ctx, creds)
	}
}

func (b *Backend) Kind() account.Kind { return account.KindFeedWrangler }

func (b *Backend) Behaviors() account.Behaviors {
	return account.DisallowFolderManagement | account.DisallowFeedInMultipleFolders
}

func (b *Backend) Credentials() *transport.Credentials     { return b.caller.Credentials() }
func (b *Backend) SetCredentials(c *transport.Credentials) { b.caller.SetCredentials(c) }
func (b *Backend) Progress() *progress.Tracker             { return b.tracker }
func (b *Backend) Caller() *Caller                         { return b.caller }
func (b *Backend) Initialize(ctx context.Context) error    { return nil }
func (b *Backend) SuspendNetwork()                         { b.caller.CancelAll() }
func (b *Backend) SuspendDatabase() error                  { return nil }
func (b *Backend) Resume() error                           { return nil }

func (b *Backend) ReceiveRemoteNotification(context.Context, map[string]string) error {
	return nil
}

// AccountWillBeDeleted ends the session on the service.
func (b *Backend) AccountWillBeDeleted(ctx context.Context) error {
	return b.caller.Logout(ctx)
}

// RefreshAll pulls subscriptions, pushes and pulls statuses, then
// downloads new and missing articles.
func (b *Backend) RefreshAll(ctx context.Context) error {
	if !b.tracker.TryBegin(refreshTasks) {
		return nil
	}
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"refreshing subscriptions", b.refreshFeeds},
		{"sending statuses", b.SendArticleStatus},
		{"refreshing statuses", b.RefreshArticleStatus},
		{"refreshing articles", b.refreshArticles},
		{"refreshing missing articles", b.refreshMissingArticles},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			b.tracker.Clear()
			return syncerr.Wrap(syncerr.TransportFailure, step.name, err)
		}
		b.tracker.CompleteTask()
	}
	return nil
}

func (b *Backend) refreshFeeds(ctx context.Context) error {
	subs, err := b.caller.Subscriptions(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*Subscription, len(subs))
	for i := range subs {
		byID[subs[i].ExternalID()] = &subs[i]
	}

	feeds, err := b.mirror.FlattenedFeeds()
	if err != nil {
		return err
	}
	var gone []string
	for _, f := range feeds {
		if _, ok := byID[f.ExternalID]; !ok {
			gone = append(gone, f.ID)
		}
	}
	if err := b.mirror.RemoveFeeds(gone); err != nil {
		return err
	}

	for _, sub := range byID {
		if _, err := b.applySubscription(sub); err != nil {
			return err
		}
	}
	return nil
}

// applySubscription creates or updates the local feed for sub at the
// account root.
func (b *Backend) applySubscription(sub *Subscription) (*storage.Feed, error) {
	f, err := b.mirror.FeedByExternalID(sub.ExternalID())
	if err != nil {
		return nil, err
	}
	if f == nil {
		f = b.mirror.NewFeed(sub.FeedURL, sub.Title)
		f.ExternalID = sub.ExternalID()
	}
	f.Name = sub.Title
	f.HomePageURL = sub.SiteURL
	f.FolderID = ""
	return f, b.mirror.SaveFeed(f)
}

func flagName(key storage.StatusKey) string {
	if key == storage.StatusStarred {
		return "starred"
	}
	return "read"
}

// SendArticleStatus pushes pending mutations one item at a time, since the
// service updates a single item per call. Failed rows stay pending.
func (b *Backend) SendArticleStatus(ctx context.Context) error {
	store := b.mirror.Store()
	rows, err := store.SelectForProcessing(0)
	if err != nil || len(rows) == 0 {
		return err
	}
	debuglog.Debugf("feedwrangler: sending %d statuses", len(rows))

	var unsupported, toggles []storage.SyncStatus
	for _, row := range rows {
		if row.Key.Toggles() {
			toggles = append(toggles, row)
		} else {
			unsupported = append(unsupported, row)
		}
	}
	if err := store.DeleteSelected(unsupported); err != nil {
		return err
	}

	var mu sync.Mutex
	var sent, failed []storage.SyncStatus
	var errs []error
	var eg errgroup.Group
	eg.SetLimit(chunkConcurrency)
	for _, row := range toggles {
		eg.Go(func() error {
			err := b.caller.UpdateItem(ctx, row.ArticleID, flagName(row.Key), row.Flag)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, row)
				errs = append(errs, err)
				return nil
			}
			sent = append(sent, row)
			return nil
		})
	}
	_ = eg.Wait()

	if err := store.DeleteSelected(sent); err != nil {
		errs = append(errs, err)
	}
	if err := store.ResetSelected(failed); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RefreshArticleStatus pulls starred and unread items. Articles with a
// queued local change keep their local value.
func (b *Backend) RefreshArticleStatus(ctx context.Context) error {
	yes, no := true, false
	starred, err := b.caller.ItemIDs(ctx, ItemQuery{Starred: &yes})
	if err != nil {
		return err
	}
	if err := b.syncStatus(starred, storage.StatusStarred, true); err != nil {
		return err
	}

	unread, err := b.caller.ItemIDs(ctx, ItemQuery{Read: &no})
	if err != nil {
		return err
	}
	return b.syncStatus(unread, storage.StatusRead, false)
}

// syncStatus makes exactly the remote ids carry flag for key; every other
// local article gets !flag.
func (b *Backend) syncStatus(remoteIDs []string, key storage.StatusKey, flag bool) error {
	store := b.mirror.Store()
	pending, err := store.PendingArticleIDs(key)
	if err != nil {
		return err
	}

	remote := make(map[string]bool, len(remoteIDs))
	var set []string
	for _, id := range remoteIDs {
		remote[id] = true
		if !pending[id] {
			set = append(set, id)
		}
	}
	if _, err := b.mirror.UpdateStatuses(set, key, flag); err != nil {
		return err
	}

	local, err := store.ArticleIDsWithStatus(key, flag)
	if err != nil {
		return err
	}
	var clear []string
	for id := range local {
		if !remote[id] && !pending[id] {
			clear = append(clear, id)
		}
	}
	_, err = b.mirror.UpdateStatuses(clear, key, !flag)
	return err
}

// refreshArticles pages through every item created since the last pass.
func (b *Backend) refreshArticles(ctx context.Context) error {
	store := b.mirror.Store()
	start := time.Now()
	since, err := store.LastArticleFetch()
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = start.Add(-initialFetchWindow)
	}
	err = b.caller.EachFeedItemsPage(ctx, ItemQuery{Since: since}, b.ingestItems)
	if err != nil {
		return err
	}
	return store.SetLastArticleFetch(start)
}

// refreshMissingArticles downloads content for statuses pulled without it.
func (b *Backend) refreshMissingArticles(ctx context.Context) error {
	ids, err := b.mirror.Store().StatusIDsWithoutArticles(time.Now().Add(-initialFetchWindow))
	if err != nil || len(ids) == 0 {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkConcurrency)
	for _, chunk := range account.Chunk(ids, b.chunkSize) {
		g.Go(func() error {
			items, err := b.caller.FeedItems(ctx, chunk)
			if err != nil {
				return err
			}
			return b.ingestItems(items)
		})
	}
	return g.Wait()
}

// ingestItems saves items of known feeds. Articles seen for the first time
// take their read and starred flags from the item unless a local change
// is queued.
func (b *Backend) ingestItems(items []FeedItem) error {
	feeds := make(map[string]*storage.Feed)
	byID := make(map[string]*FeedItem, len(items))
	articles := make([]*storage.Article, 0, len(items))
	for i := range items {
		it := &items[i]
		extID := it.FeedExternalID()
		f, ok := feeds[extID]
		if !ok {
			var err error
			if f, err = b.mirror.FeedByExternalID(extID); err != nil {
				return err
			}
			feeds[extID] = f
		}
		if f == nil {
			debuglog.Debugf("feedwrangler: item %d from unknown feed %d", it.ID, it.FeedID)
			continue
		}
		byID[it.ArticleID()] = it
		articles = append(articles, &storage.Article{
			ID:        it.ArticleID(),
			FeedID:    f.ID,
			Title:     it.Title,
			Content:   it.Body,
			URL:       it.URL,
			Published: it.Published(),
			Updated:   it.Updated(),
		})
	}
	fresh, err := b.mirror.IngestArticles(articles)
	if err != nil || len(fresh) == 0 {
		return err
	}

	store := b.mirror.Store()
	pendingRead, err := store.PendingArticleIDs(storage.StatusRead)
	if err != nil {
		return err
	}
	pendingStarred, err := store.PendingArticleIDs(storage.StatusStarred)
	if err != nil {
		return err
	}
	var read, starred []string
	for _, a := range fresh {
		it := byID[a.ID]
		if it.Read && !pendingRead[a.ID] {
			read = append(read, a.ID)
		}
		if it.Starred && !pendingStarred[a.ID] {
			starred = append(starred, a.ID)
		}
	}
	if _, err := b.mirror.UpdateStatuses(read, storage.StatusRead, true); err != nil {
		return err
	}
	_, err = b.mirror.UpdateStatuses(starred, storage.StatusStarred, true)
	return err
}

func (b *Backend) CreateFolder(context.Context, string) (*storage.Folder, error) {
	return nil, syncerr.ErrFolderManagement
}

func (b *Backend) RenameFolder(context.Context, *storage.Folder, string) error {
	return syncerr.ErrFolderManagement
}

func (b *Backend) RemoveFolder(context.Context, *storage.Folder) error {
	return syncerr.ErrFolderManagement
}

func (b *Backend) RestoreFolder(context.Context, *storage.Folder, []*storage.Feed) error {
	return syncerr.ErrFolderManagement
}

func rootOnly(op, container string) error {
	if container != "" {
		return syncerr.New(syncerr.InvalidParameter, op, "feeds can only live at the account root")
	}
	return nil
}

// CreateFeed subscribes, applies the optional name and downloads the
// feed's first page of items. A failed rename or download is logged; the
// subscription stands.
func (b *Backend) CreateFeed(ctx context.Context, rawURL, name, container string) (*storage.Feed, error) {
	if err := rootOnly("creating feed", container); err != nil {
		return nil, err
	}
	feedURL, err := b.validator.ValidateAndNormalize(rawURL)
	if err != nil {
		return nil, err
	}
	if exists, err := b.mirror.HasFeedWithURL(feedURL); err != nil {
		return nil, err
	} else if exists {
		return nil, syncerr.ErrAlreadySubscribed
	}

	sub, err := b.caller.AddSubscription(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	if known, err := b.mirror.FeedByExternalID(sub.ExternalID()); err != nil {
		return nil, err
	} else if known != nil {
		return nil, syncerr.ErrAlreadySubscribed
	}

	f := b.mirror.NewFeed(sub.FeedURL, sub.Title)
	f.ExternalID = sub.ExternalID()
	f.HomePageURL = sub.SiteURL
	if name != "" {
		if err := b.caller.RenameSubscription(ctx, f.ExternalID, name); err != nil {
			debuglog.Warnf("feedwrangler: naming %s: %v", f.URL, err)
		} else {
			f.EditedName = name
		}
	}
	if err := b.mirror.AddFeedToContainer(f, ""); err != nil {
		return nil, err
	}

	items, err := b.caller.FeedItemsPage(ctx, ItemQuery{FeedID: f.ExternalID}, 0)
	if err == nil {
		err = b.ingestItems(items)
	}
	if err != nil {
		debuglog.Warnf("feedwrangler: initial download of %s: %v", f.URL, err)
	}
	return f, nil
}

func (b *Backend) RenameFeed(ctx context.Context, f *storage.Feed, name string) error {
	if f.ExternalID != "" {
		if err := b.caller.RenameSubscription(ctx, f.ExternalID, name); err != nil {
			return err
		}
	}
	f.EditedName = name
	return b.mirror.SaveFeed(f)
}

func (b *Backend) AddFeed(_ context.Context, f *storage.Feed, container string) error {
	if err := rootOnly("adding feed", container); err != nil {
		return err
	}
	return b.mirror.AddFeedToContainer(f, "")
}

func (b *Backend) RemoveFeed(ctx context.Context, f *storage.Feed, container string) error {
	if f.ExternalID != "" {
		if err := b.caller.RemoveSubscription(ctx, f.ExternalID); err != nil {
			return err
		}
	}
	return b.mirror.RemoveFeedFromContainer(f, container)
}

func (b *Backend) MoveFeed(context.Context, *storage.Feed, string, string) error {
	return syncerr.ErrFolderManagement
}

// RestoreFeed re-adds f, subscribing again when it no longer exists.
func (b *Backend) RestoreFeed(ctx context.Context, f *storage.Feed, container string) error {
	existing, err := b.mirror.FeedByURL(f.URL)
	if err != nil {
		return err
	}
	if existing != nil {
		return b.AddFeed(ctx, existing, container)
	}
	_, err = b.CreateFeed(ctx, f.URL, f.EditedName, container)
	return err
}

func (b *Backend) MarkArticles(ctx context.Context, ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	return b.flusher.MarkArticles(ctx, ids, key, flag)
}
