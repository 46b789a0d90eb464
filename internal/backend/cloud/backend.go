package cloud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/feed"
	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
	"github.com/pders01/fwrdsync/internal/validation"
)

type Options struct {
	FlushThreshold int
	ChunkSize      int
	// Concurrency bounds parallel feed downloads.
	Concurrency  int
	URLValidator *validation.FeedURLValidator
}

// Backend keeps the subscription tree and article statuses in a cloud
// database while feeds themselves are downloaded from their publishers.
type Backend struct {
	mirror    *account.Mirror
	transport transport.Transport
	tracker   *progress.Tracker
	flusher   *account.Flusher
	refresher *feed.Refresher
	validator *validation.FeedURLValidator

	accountZone  *AccountZone
	articlesZone *ArticlesZone

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
}

var _ account.Backend = (*Backend)(nil)

func New(mirror *account.Mirror, db Database, t transport.Transport, opts Options) *Backend {
	b := &Backend{
		mirror:       mirror,
		transport:    t,
		tracker:      progress.NewTracker(),
		validator:    opts.URLValidator,
		accountZone:  NewAccountZone(db, mirror),
		articlesZone: NewArticlesZone(db, mirror, opts.ChunkSize),
	}
	if b.validator == nil {
		b.validator = validation.NewFeedURLValidator()
	}
	b.base, b.cancel = context.WithCancel(context.Background())
	b.flusher = account.NewFlusher(mirror, opts.FlushThreshold, b.SendArticleStatus)
	b.refresher = feed.NewRefresher(t, mirror.Store(), b.ingest, opts.Concurrency)
	return b
}

// ValidateCredentials always succeeds: the cloud account is the user's
// system identity and has no credentials of its own.
func ValidateCredentials(context.Context, transport.Transport, *transport.Credentials) (*transport.Credentials, error) {
	return nil, nil
}

var _ account.ValidateFunc = ValidateCredentials

func (b *Backend) Kind() account.Kind { return account.KindCloud }

func (b *Backend) Behaviors() account.Behaviors {
	return account.DisallowFeedInMultipleFolders
}

func (b *Backend) Credentials() *transport.Credentials   { return nil }
func (b *Backend) SetCredentials(*transport.Credentials) {}
func (b *Backend) Progress() *progress.Tracker           { return b.tracker }
func (b *Backend) AccountZone() *AccountZone             { return b.accountZone }
func (b *Backend) ArticlesZone() *ArticlesZone           { return b.articlesZone }

// SetForceRefresh makes the next passes ignore cached feed validators.
func (b *Backend) SetForceRefresh(force bool) { b.refresher.SetForceRefresh(force) }

// link ties ctx to the backend's lifetime so SuspendNetwork can abort it.
func (b *Backend) link(ctx context.Context) (context.Context, context.CancelFunc) {
	b.mu.Lock()
	base := b.base
	b.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Initialize creates the account root record on first use and runs the
// initial pass.
func (b *Backend) Initialize(ctx context.Context) error {
	id, err := b.mirror.Store().AccountExternalID()
	if err != nil {
		return err
	}
	if id == "" {
		if _, err := b.rootID(ctx); err != nil {
			return err
		}
	}
	return b.RefreshAll(ctx)
}

func (b *Backend) rootID(ctx context.Context) (string, error) {
	store := b.mirror.Store()
	id, err := store.AccountExternalID()
	if err != nil || id != "" {
		return id, err
	}
	if id, err = b.accountZone.FindOrCreateAccount(ctx); err != nil {
		return "", err
	}
	return id, store.SetAccountExternalID(id)
}

// containerID maps a folder ID ("" for the root) to its record id.
func (b *Backend) containerID(ctx context.Context, container string) (string, error) {
	if container == "" {
		return b.rootID(ctx)
	}
	folder, err := b.mirror.Folder(container)
	if err != nil {
		return "", syncerr.Wrap(syncerr.InvalidParameter, "looking up folder", err)
	}
	if folder.ExternalID == "" {
		return "", syncerr.New(syncerr.InvalidParameter, "looking up folder", "folder "+folder.Name+" was never synced")
	}
	return folder.ExternalID, nil
}

// ReceiveRemoteNotification runs one incremental fetch of the zone named
// by payload["zone"], or of both zones when none is named.
func (b *Backend) ReceiveRemoteNotification(ctx context.Context, payload map[string]string) error {
	ctx, done := b.link(ctx)
	defer done()

	var zones []*Zone
	switch name := payload["zone"]; name {
	case AccountZoneName:
		zones = []*Zone{b.accountZone.Zone}
	case ArticlesZoneName:
		zones = []*Zone{b.articlesZone.Zone}
	case "":
		zones = []*Zone{b.accountZone.Zone, b.articlesZone.Zone}
	default:
		return syncerr.New(syncerr.InvalidParameter, "receiving notification", "unknown zone "+name)
	}
	for _, z := range zones {
		if err := z.FetchChangesInZone(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RefreshAll pulls the subscription tree and statuses, downloads every
// feed and pushes the resulting changes.
func (b *Backend) RefreshAll(ctx context.Context) error {
	initial, err := b.mirror.FlattenedFeeds()
	if err != nil {
		return err
	}
	if !b.tracker.TryBegin(3 + len(initial)) {
		return nil
	}
	ctx, done := b.link(ctx)
	defer done()

	if err := b.refreshAll(ctx, len(initial)); err != nil {
		b.tracker.Clear()
		return err
	}
	return nil
}

func (b *Backend) refreshAll(ctx context.Context, initialFeeds int) error {
	if err := b.accountZone.FetchChangesInZone(ctx); err != nil {
		return err
	}
	b.tracker.CompleteTask()

	feeds, err := b.mirror.FlattenedFeeds()
	if err != nil {
		return err
	}
	if delta := len(feeds) - initialFeeds; delta > 0 {
		b.tracker.AddTasks(delta)
	} else if delta < 0 {
		b.tracker.CompleteTasks(-delta)
	}

	if err := b.articlesZone.FetchChangesInZone(ctx); err != nil {
		return err
	}
	b.tracker.CompleteTask()

	if err := b.refresher.RefreshAll(ctx, feeds, b.tracker); err != nil {
		if ctx.Err() != nil {
			return syncerr.Wrap(syncerr.TransportFailure, "downloading feeds", err)
		}
		debuglog.Warnf("cloud: some feeds failed to refresh: %v", err)
	}

	if err := b.articlesZone.SendStatus(ctx); err != nil {
		return err
	}
	b.tracker.CompleteTask()
	return b.mirror.Store().SetLastArticleFetch(time.Now())
}

// ingest applies a downloaded document and queues the article changes for
// upload.
func (b *Backend) ingest(f *storage.Feed, parsed *feed.Parsed) error {
	if parsed.Title != "" {
		f.Name = parsed.Title
	}
	if parsed.HomePageURL != "" {
		f.HomePageURL = parsed.HomePageURL
	}
	result, err := b.mirror.UpdateFeedArticles(f, parsed.Articles, true)
	if err != nil {
		return err
	}
	return b.storeArticleChanges(result)
}

// storeArticleChanges queues content uploads for new and updated articles
// and deletions for removed ones. New articles already read elsewhere only
// lacked local content and are not uploaded again.
func (b *Backend) storeArticleChanges(result *account.IngestResult) error {
	store := b.mirror.Store()
	var rows []storage.SyncStatus
	for _, a := range result.New {
		st, err := store.GetStatus(a.ID)
		if err == nil && st.Read {
			continue
		}
		rows = append(rows, storage.SyncStatus{ArticleID: a.ID, Key: storage.StatusNew, Flag: true})
	}
	for _, a := range result.Updated {
		rows = append(rows, storage.SyncStatus{ArticleID: a.ID, Key: storage.StatusNew, Flag: false})
	}
	for _, a := range result.Deleted {
		rows = append(rows, storage.SyncStatus{ArticleID: a.ID, Key: storage.StatusDeleted, Flag: true})
	}
	return store.InsertStatuses(rows)
}

func (b *Backend) SendArticleStatus(ctx context.Context) error {
	ctx, done := b.link(ctx)
	defer done()
	return b.articlesZone.SendStatus(ctx)
}

func (b *Backend) RefreshArticleStatus(ctx context.Context) error {
	ctx, done := b.link(ctx)
	defer done()
	return b.articlesZone.FetchChangesInZone(ctx)
}

// CreateFeed downloads the feed, records it remotely and uploads its
// articles.
func (b *Backend) CreateFeed(ctx context.Context, rawURL, name, container string) (*storage.Feed, error) {
	ctx, done := b.link(ctx)
	defer done()

	feedURL, err := b.validator.ValidateAndNormalize(rawURL)
	if err != nil {
		return nil, err
	}
	if exists, err := b.mirror.HasFeedWithURL(feedURL); err != nil {
		return nil, err
	} else if exists {
		return nil, syncerr.ErrAlreadySubscribed
	}
	containerID, err := b.containerID(ctx, container)
	if err != nil {
		return nil, err
	}

	steps := b.tracker.Steps(3)
	defer steps.Finish()

	f := b.mirror.NewFeed(feedURL, "")
	f.EditedName = name
	parsed, err := b.refresher.Download(ctx, f)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindUnknown {
			err = fmt.Errorf("%w: %v", syncerr.ErrCreateNotFound, err)
		}
		return nil, err
	}
	steps.Done()

	title := ""
	if parsed != nil {
		title = parsed.Title
		f.HomePageURL = parsed.HomePageURL
	}
	rec, err := b.accountZone.CreateFeed(ctx, feedURL, title, name, containerID)
	if err != nil {
		return nil, err
	}
	steps.Done()

	f.ExternalID = rec.ID
	f.Name = rec.Get(fieldName)
	f.LastFetched = time.Now()
	if err := b.mirror.AddFeedToContainer(f, container); err != nil {
		return nil, err
	}
	if parsed != nil {
		result, err := b.mirror.UpdateFeedArticles(f, parsed.Articles, false)
		if err != nil {
			return nil, err
		}
		if err := b.storeArticleChanges(result); err != nil {
			return nil, err
		}
	}
	b.uploadArticles(ctx)
	return f, nil
}

// uploadArticles pushes queued changes and pulls statuses other clients
// hold for the new articles. Failures leave the changes queued.
func (b *Backend) uploadArticles(ctx context.Context) {
	if err := b.articlesZone.SendStatus(ctx); err != nil {
		debuglog.Warnf("cloud: uploading articles: %v", err)
		return
	}
	if err := b.articlesZone.FetchChangesInZone(ctx); err != nil {
		debuglog.Warnf("cloud: fetching article statuses: %v", err)
	}
}

func (b *Backend) RenameFeed(ctx context.Context, f *storage.Feed, name string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	if err := b.accountZone.RenameFeed(ctx, f.ExternalID, name); err != nil {
		return err
	}
	f.EditedName = name
	return b.mirror.SaveFeed(f)
}

func (b *Backend) AddFeed(ctx context.Context, f *storage.Feed, container string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	containerID, err := b.containerID(ctx, container)
	if err != nil {
		return err
	}
	if err := b.accountZone.AddFeed(ctx, f.ExternalID, containerID); err != nil {
		return err
	}
	return b.mirror.AddFeedToContainer(f, container)
}

// RemoveFeed deletes the feed record and, once it is gone, the feed's
// article records.
func (b *Backend) RemoveFeed(ctx context.Context, f *storage.Feed, container string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(2)
	defer steps.Finish()

	containerID, err := b.containerID(ctx, container)
	if err != nil {
		return err
	}
	deleted, err := b.accountZone.RemoveFeed(ctx, f.ExternalID, containerID)
	if err != nil {
		return err
	}
	steps.Done()
	if deleted {
		if err := b.articlesZone.DeleteArticles(ctx, f.ExternalID); err != nil {
			return err
		}
	}
	return b.mirror.RemoveFeedFromContainer(f, container)
}

func (b *Backend) MoveFeed(ctx context.Context, f *storage.Feed, from, to string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	fromID, err := b.containerID(ctx, from)
	if err != nil {
		return err
	}
	toID, err := b.containerID(ctx, to)
	if err != nil {
		return err
	}
	if err := b.accountZone.MoveFeed(ctx, f.ExternalID, fromID, toID); err != nil {
		return err
	}
	return b.mirror.MoveFeedBetween(f, from, to)
}

// RestoreFeed records f remotely again and re-uploads the articles the
// mirror still holds for it.
func (b *Backend) RestoreFeed(ctx context.Context, f *storage.Feed, container string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(2)
	defer steps.Finish()

	containerID, err := b.containerID(ctx, container)
	if err != nil {
		return err
	}
	rec, err := b.accountZone.CreateFeed(ctx, f.URL, f.Name, f.EditedName, containerID)
	if err != nil {
		return err
	}
	steps.Done()

	f.ExternalID = rec.ID
	if err := b.mirror.AddFeedToContainer(f, container); err != nil {
		return err
	}
	articles, err := b.mirror.Store().GetArticles(f.ID, 0)
	if err != nil {
		return err
	}
	if err := b.storeArticleChanges(&account.IngestResult{New: articles}); err != nil {
		return err
	}
	if err := b.articlesZone.SendStatus(ctx); err != nil {
		debuglog.Warnf("cloud: restoring articles of %s: %v", f.URL, err)
	}
	return nil
}

func (b *Backend) CreateFolder(ctx context.Context, name string) (*storage.Folder, error) {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	rec, err := b.accountZone.CreateFolder(ctx, name)
	if err != nil {
		return nil, err
	}
	folder, err := b.mirror.EnsureFolder(name, rec.ID)
	if err != nil {
		return nil, err
	}
	if folder.ExternalID != rec.ID {
		folder.ExternalID = rec.ID
		if err := b.mirror.SaveFolder(folder); err != nil {
			return nil, err
		}
	}
	return folder, nil
}

func (b *Backend) RenameFolder(ctx context.Context, folder *storage.Folder, name string) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	if err := b.accountZone.RenameFolder(ctx, folder.ExternalID, name); err != nil {
		return err
	}
	folder.Name = name
	return b.mirror.SaveFolder(folder)
}

func (b *Backend) RemoveFolder(ctx context.Context, folder *storage.Folder) error {
	ctx, done := b.link(ctx)
	defer done()
	steps := b.tracker.Steps(1)
	defer steps.Finish()

	if err := b.accountZone.RemoveFolder(ctx, folder.ExternalID); err != nil {
		return err
	}
	return b.mirror.RemoveFolder(folder)
}

// RestoreFolder recreates the folder and replays each feed. Feeds that
// fail are logged and skipped.
func (b *Backend) RestoreFolder(ctx context.Context, folder *storage.Folder, feeds []*storage.Feed) error {
	restored, err := b.CreateFolder(ctx, folder.Name)
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if err := b.RestoreFeed(ctx, f, restored.ID); err != nil {
			debuglog.Warnf("cloud: restoring %s into %s: %v", f.URL, folder.Name, err)
		}
	}
	return nil
}

func (b *Backend) MarkArticles(ctx context.Context, ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	return b.flusher.MarkArticles(ctx, ids, key, flag)
}

func (b *Backend) AccountWillBeDeleted(context.Context) error {
	return errors.Join(b.accountZone.ResetChangeToken(), b.articlesZone.ResetChangeToken())
}

// SuspendNetwork cancels feed downloads and every zone operation in flight.
func (b *Backend) SuspendNetwork() {
	b.transport.CancelAll()
	b.mu.Lock()
	b.cancel()
	b.base, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()
}

func (b *Backend) SuspendDatabase() error { return nil }
func (b *Backend) Resume() error          { return nil }
