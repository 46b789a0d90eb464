// Package readerapi syncs an account with a Google Reader API service such
// as FreshRSS, Inoreader or The Old Reader.
package readerapi

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
	refreshTasks = 6
	// initialFetchWindow bounds the first article download.
	initialFetchWindow = 90 * 24 * time.Hour
	chunkConcurrency   = 4
)

type Options struct {
	FlushThreshold int
	ChunkSize      int
	// URLValidator checks CreateFeed input; defaults to the strict one.
	URLValidator *validation.FeedURLValidator
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
		caller:    NewCaller(t, mirror.Store(), cfg),
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

// ValidateCredentials returns a check that logs in against cfg.
func ValidateCredentials(cfg Config) account.ValidateFunc {
	return func(ctx context.Context, t transport.Transport, creds *transport.Credentials) (*transport.Credentials, error) {
		c := NewCaller(t, nil, cfg)
		return c.Login(ctx, creds)
	}
}

func (b *Backend) Kind() account.Kind { return account.KindReaderAPI }

func (b *Backend) Behaviors() account.Behaviors {
	return account.DisallowFeedInMultipleFolders
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

func (b *Backend) AccountWillBeDeleted(context.Context) error {
	b.caller.ForgetToken()
	return nil
}

// RefreshAll pulls folders and feeds, pushes and pulls statuses, then
// downloads new and missing articles.
func (b *Backend) RefreshAll(ctx context.Context) error {
	if !b.tracker.TryBegin(refreshTasks) {
		return nil
	}
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"refreshing folders", b.refreshFolders},
		{"refreshing feeds", b.refreshFeeds},
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

func (b *Backend) refreshFolders(ctx context.Context) error {
	tags, changed, err := b.caller.Tags(ctx)
	if err != nil || !changed {
		return err
	}

	remote := make(map[string]string)
	for _, tag := range tags {
		if name, ok := tag.FolderName(); ok {
			remote[name] = tag.ID
		}
	}

	folders, err := b.mirror.Folders()
	if err != nil {
		return err
	}
	for _, folder := range folders {
		if _, ok := remote[folder.Name]; ok {
			continue
		}
		// Feeds stay subscribed; the subscription list settles them.
		feeds, err := b.mirror.FeedsInContainer(folder.ID)
		if err != nil {
			return err
		}
		for _, f := range feeds {
			if err := b.mirror.MoveFeedBetween(f, folder.ID, ""); err != nil {
				return err
			}
		}
		debuglog.Infof("readerapi: removing folder %s", folder.Name)
		if err := b.mirror.RemoveFolder(folder); err != nil {
			return err
		}
	}
	for name, id := range remote {
		if _, err := b.mirror.EnsureFolder(name, id); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) refreshFeeds(ctx context.Context) error {
	subs, changed, err := b.caller.Subscriptions(ctx, true)
	if err != nil || !changed {
		return err
	}

	byID := make(map[string]*Subscription, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
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
		if err := b.applySubscription(sub); err != nil {
			return err
		}
	}
	return nil
}

// applySubscription creates or updates the local feed for sub, including
// its folder.
func (b *Backend) applySubscription(sub *Subscription) error {
	f, err := b.mirror.FeedByExternalID(sub.ID)
	if err != nil {
		return err
	}
	if f == nil {
		f = b.mirror.NewFeed(sub.URL, sub.Title)
		f.ExternalID = sub.ID
	}
	f.Name = sub.Title
	f.HomePageURL = sub.HomePage

	f.FolderID = ""
	if cat, ok := sub.Folder(); ok {
		folder, err := b.mirror.EnsureFolder(cat.Label, cat.ID)
		if err != nil {
			return err
		}
		f.FolderID = folder.ID
	}
	return b.mirror.SaveFeed(f)
}

// SendArticleStatus pushes pending mutations grouped by state and flag in
// chunks. Failed chunks stay pending.
func (b *Backend) SendArticleStatus(ctx context.Context) error {
	store := b.mirror.Store()
	rows, err := store.SelectForProcessing(0)
	if err != nil || len(rows) == 0 {
		return err
	}
	debuglog.Debugf("readerapi: sending %d statuses", len(rows))

	type group struct {
		key  storage.StatusKey
		flag bool
	}
	groups := make(map[group][]storage.SyncStatus)
	var unsupported []storage.SyncStatus
	for _, row := range rows {
		if !row.Key.Toggles() {
			unsupported = append(unsupported, row)
			continue
		}
		g := group{row.Key, row.Flag}
		groups[g] = append(groups[g], row)
	}
	if err := store.DeleteSelected(unsupported); err != nil {
		return err
	}

	var mu sync.Mutex
	var errs []error
	var eg errgroup.Group
	eg.SetLimit(chunkConcurrency)
	for g, statuses := range groups {
		state, add := stateRead, g.flag
		if g.key == storage.StatusStarred {
			state = stateStarred
		}
		for _, chunk := range account.Chunk(statuses, b.chunkSize) {
			eg.Go(func() error {
				ids := make([]string, 0, len(chunk))
				for _, st := range chunk {
					ids = append(ids, st.ArticleID)
				}
				if err := b.caller.UpdateState(ctx, ids, state, add); err != nil {
					if rerr := store.ResetSelected(chunk); rerr != nil {
						err = errors.Join(err, rerr)
					}
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return nil
				}
				if err := store.DeleteSelected(chunk); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// RefreshArticleStatus pulls starred and unread ids. Articles with a
// queued local change keep their local value. Starred ids go first so that
// statuses they create are then settled by the unread list.
func (b *Backend) RefreshArticleStatus(ctx context.Context) error {
	starred, changed, err := b.caller.StarredItemIDs(ctx)
	if err != nil {
		return err
	}
	if changed {
		if err := b.syncStatus(starred, storage.StatusStarred, true); err != nil {
			return err
		}
	}

	unread, changed, err := b.caller.UnreadItemIDs(ctx)
	if err != nil {
		return err
	}
	if changed {
		if err := b.syncStatus(unread, storage.StatusRead, false); err != nil {
			return err
		}
	}
	return nil
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

	ids, err := b.caller.ItemIDsSince(ctx, readingList, since)
	if err != nil {
		return err
	}
	if err := b.downloadEntries(ctx, ids); err != nil {
		return err
	}
	return store.SetLastArticleFetch(start)
}

// refreshMissingArticles downloads content for statuses pulled without it.
func (b *Backend) refreshMissingArticles(ctx context.Context) error {
	ids, err := b.mirror.Store().StatusIDsWithoutArticles(time.Now().Add(-initialFetchWindow))
	if err != nil {
		return err
	}
	return b.downloadEntries(ctx, ids)
}

func (b *Backend) downloadEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkConcurrency)
	for _, chunk := range account.Chunk(ids, b.chunkSize) {
		g.Go(func() error {
			entries, err := b.caller.Entries(ctx, chunk)
			if err != nil {
				return err
			}
			return b.ingestEntries(entries)
		})
	}
	return g.Wait()
}

func (b *Backend) ingestEntries(entries []Entry) error {
	feeds := make(map[string]*storage.Feed)
	articles := make([]*storage.Article, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		f, ok := feeds[e.Origin.StreamID]
		if !ok {
			var err error
			if f, err = b.mirror.FeedByExternalID(e.Origin.StreamID); err != nil {
				return err
			}
			feeds[e.Origin.StreamID] = f
		}
		if f == nil {
			debuglog.Debugf("readerapi: entry %s from unknown stream %s", e.ID, e.Origin.StreamID)
			continue
		}
		id, err := b.caller.ArticleID(e)
		if err != nil {
			debuglog.Warnf("readerapi: %v", err)
			continue
		}
		article := &storage.Article{
			ID:        id,
			FeedID:    f.ID,
			Title:     e.Title,
			Content:   e.Summary.Content,
			URL:       e.URL(),
			Published: e.PublishedTime(),
		}
		if e.Updated > 0 {
			article.Updated = time.Unix(e.Updated, 0)
		}
		articles = append(articles, article)
	}
	_, err := b.mirror.IngestArticles(articles)
	return err
}

func (b *Backend) CreateFolder(_ context.Context, name string) (*storage.Folder, error) {
	// Tags only exist remotely once a feed carries them.
	return b.mirror.EnsureFolder(name, LabelID(name))
}

func (b *Backend) RenameFolder(ctx context.Context, folder *storage.Folder, name string) error {
	if err := b.caller.RenameTag(ctx, folder.Name, name); err != nil {
		return err
	}
	folder.Name = name
	folder.ExternalID = LabelID(name)
	return b.mirror.SaveFolder(folder)
}

// RemoveFolder unsubscribes from every feed in folder, then deletes the tag.
func (b *Backend) RemoveFolder(ctx context.Context, folder *storage.Folder) error {
	feeds, err := b.mirror.FeedsInContainer(folder.ID)
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if f.ExternalID == "" {
			continue
		}
		if err := b.caller.DeleteSubscription(ctx, f.ExternalID); err != nil {
			return err
		}
		if err := b.mirror.RemoveFeeds([]string{f.ID}); err != nil {
			return err
		}
	}
	if folder.ExternalID != "" {
		if err := b.caller.DeleteTag(ctx, folder.ExternalID); err != nil {
			return err
		}
	}
	return b.mirror.RemoveFolder(folder)
}

// RestoreFolder recreates folder and replays its feeds. Feeds that fail are
// logged and skipped.
func (b *Backend) RestoreFolder(ctx context.Context, folder *storage.Folder, feeds []*storage.Feed) error {
	restored, err := b.mirror.EnsureFolder(folder.Name, LabelID(folder.Name))
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if err := b.RestoreFeed(ctx, f, restored.ID); err != nil {
			debuglog.Warnf("readerapi: restoring %s into %s: %v", f.URL, folder.Name, err)
		}
	}
	return nil
}

func (b *Backend) folderName(container string) (string, error) {
	if container == "" {
		return "", nil
	}
	folder, err := b.mirror.Folder(container)
	if err != nil {
		return "", syncerr.Wrap(syncerr.InvalidParameter, "looking up folder", err)
	}
	return folder.Name, nil
}

func (b *Backend) CreateFeed(ctx context.Context, rawURL, name, container string) (*storage.Feed, error) {
	feedURL, err := b.validator.ValidateAndNormalize(rawURL)
	if err != nil {
		return nil, err
	}
	if exists, err := b.mirror.HasFeedWithURL(feedURL); err != nil {
		return nil, err
	} else if exists {
		return nil, syncerr.ErrAlreadySubscribed
	}
	folderName, err := b.folderName(container)
	if err != nil {
		return nil, err
	}

	sub, err := b.caller.CreateSubscription(ctx, feedURL, name, folderName)
	if err != nil {
		return nil, err
	}
	f := b.mirror.NewFeed(sub.URL, sub.Title)
	f.ExternalID = sub.ID
	f.HomePageURL = sub.HomePage
	f.EditedName = name
	if err := b.mirror.AddFeedToContainer(f, container); err != nil {
		return nil, err
	}

	ids, err := b.caller.ItemIDsSince(ctx, sub.ID, time.Now().Add(-initialFetchWindow))
	if err == nil {
		err = b.downloadEntries(ctx, ids)
	}
	if err != nil {
		debuglog.Warnf("readerapi: initial download of %s: %v", f.URL, err)
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

func (b *Backend) AddFeed(ctx context.Context, f *storage.Feed, container string) error {
	folderName, err := b.folderName(container)
	if err != nil {
		return err
	}
	if folderName != "" && f.ExternalID != "" {
		if err := b.caller.CreateTagging(ctx, f.ExternalID, folderName); err != nil {
			return err
		}
	}
	return b.mirror.AddFeedToContainer(f, container)
}

func (b *Backend) RemoveFeed(ctx context.Context, f *storage.Feed, container string) error {
	if f.ExternalID != "" {
		if err := b.caller.DeleteSubscription(ctx, f.ExternalID); err != nil {
			return err
		}
	}
	return b.mirror.RemoveFeedFromContainer(f, container)
}

// MoveFeed tags the feed with the new folder before untagging the old one.
// The mirror only changes once both calls succeeded.
func (b *Backend) MoveFeed(ctx context.Context, f *storage.Feed, from, to string) error {
	fromName, err := b.folderName(from)
	if err != nil {
		return err
	}
	toName, err := b.folderName(to)
	if err != nil {
		return err
	}
	if toName != "" {
		if err := b.caller.CreateTagging(ctx, f.ExternalID, toName); err != nil {
			return err
		}
	}
	if fromName != "" {
		if err := b.caller.DeleteTagging(ctx, f.ExternalID, fromName); err != nil {
			return err
		}
	}
	return b.mirror.MoveFeedBetween(f, from, to)
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
