// Package local implements an account whose feeds are downloaded directly
// from their publishers and whose state lives only in the mirror.
package local

import (
	"context"
	"fmt"
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
	Concurrency  int
	URLValidator *validation.FeedURLValidator
}

type Backend struct {
	mirror    *account.Mirror
	transport transport.Transport
	tracker   *progress.Tracker
	refresher *feed.Refresher
	validator *validation.FeedURLValidator
}

var _ account.Backend = (*Backend)(nil)

func New(mirror *account.Mirror, t transport.Transport, opts Options) *Backend {
	b := &Backend{
		mirror:    mirror,
		transport: t,
		tracker:   progress.NewTracker(),
		validator: opts.URLValidator,
	}
	if b.validator == nil {
		b.validator = validation.NewFeedURLValidator()
	}
	b.refresher = feed.NewRefresher(t, mirror.Store(), b.ingest, opts.Concurrency)
	return b
}

// ValidateCredentials always succeeds; a local account has no credentials.
func ValidateCredentials(context.Context, transport.Transport, *transport.Credentials) (*transport.Credentials, error) {
	return nil, nil
}

var _ account.ValidateFunc = ValidateCredentials

func (b *Backend) Kind() account.Kind                    { return account.KindLocal }
func (b *Backend) Behaviors() account.Behaviors          { return 0 }
func (b *Backend) Credentials() *transport.Credentials   { return nil }
func (b *Backend) SetCredentials(*transport.Credentials) {}
func (b *Backend) Progress() *progress.Tracker           { return b.tracker }

// SetForceRefresh makes the next passes ignore cached validators.
func (b *Backend) SetForceRefresh(force bool) { b.refresher.SetForceRefresh(force) }

func (b *Backend) Initialize(context.Context) error { return nil }

func (b *Backend) ReceiveRemoteNotification(context.Context, map[string]string) error {
	return nil
}

// RefreshAll downloads every feed, one progress task per feed. Failing
// feeds are logged and do not fail the pass.
func (b *Backend) RefreshAll(ctx context.Context) error {
	feeds, err := b.mirror.FlattenedFeeds()
	if err != nil {
		return err
	}
	if len(feeds) == 0 || !b.tracker.TryBegin(len(feeds)) {
		return nil
	}
	debuglog.Infof("local: refreshing %d feeds", len(feeds))

	err = b.refresher.RefreshAll(ctx, feeds, b.tracker)
	if ctx.Err() != nil {
		b.tracker.Clear()
		return syncerr.Wrap(syncerr.TransportFailure, "refreshing feeds", ctx.Err())
	}
	if err != nil {
		debuglog.Warnf("local: some feeds failed to refresh: %v", err)
	}
	return b.mirror.Store().SetLastArticleFetch(time.Now())
}

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
	if !result.Empty() {
		debuglog.Debugf("local: %s: %d new, %d updated, %d deleted",
			f.URL, len(result.New), len(result.Updated), len(result.Deleted))
	}
	return nil
}

func (b *Backend) SendArticleStatus(context.Context) error    { return nil }
func (b *Backend) RefreshArticleStatus(context.Context) error { return nil }

func (b *Backend) CreateFolder(_ context.Context, name string) (*storage.Folder, error) {
	return b.mirror.EnsureFolder(name, "")
}

func (b *Backend) RenameFolder(_ context.Context, folder *storage.Folder, name string) error {
	if name == "" {
		return syncerr.New(syncerr.InvalidParameter, "renaming folder", "empty folder name")
	}
	folder.Name = name
	return b.mirror.SaveFolder(folder)
}

func (b *Backend) RemoveFolder(_ context.Context, folder *storage.Folder) error {
	return b.mirror.RemoveFolder(folder)
}

func (b *Backend) RestoreFolder(ctx context.Context, folder *storage.Folder, feeds []*storage.Feed) error {
	restored, err := b.mirror.EnsureFolder(folder.Name, "")
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if err := b.RestoreFeed(ctx, f, restored.ID); err != nil {
			debuglog.Warnf("local: restoring %s into %s: %v", f.URL, folder.Name, err)
		}
	}
	return nil
}

// CreateFeed validates the URL and downloads the feed before saving it, so
// a document that cannot be parsed is never subscribed.
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

	steps := b.tracker.Steps(1)
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
	f.LastFetched = time.Now()
	if err := b.mirror.AddFeedToContainer(f, container); err != nil {
		return nil, err
	}
	if parsed != nil {
		if err := b.ingest(f, parsed); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (b *Backend) RenameFeed(_ context.Context, f *storage.Feed, name string) error {
	f.EditedName = name
	return b.mirror.SaveFeed(f)
}

func (b *Backend) AddFeed(_ context.Context, f *storage.Feed, container string) error {
	return b.mirror.AddFeedToContainer(f, container)
}

func (b *Backend) RemoveFeed(_ context.Context, f *storage.Feed, container string) error {
	return b.mirror.RemoveFeedFromContainer(f, container)
}

func (b *Backend) MoveFeed(_ context.Context, f *storage.Feed, from, to string) error {
	return b.mirror.MoveFeedBetween(f, from, to)
}

// RestoreFeed saves f again and refreshes it so its articles come back.
func (b *Backend) RestoreFeed(ctx context.Context, f *storage.Feed, container string) error {
	if err := b.mirror.AddFeedToContainer(f, container); err != nil {
		return err
	}
	if err := b.refresher.RefreshFeed(ctx, f); err != nil {
		debuglog.Warnf("local: refreshing restored feed %s: %v", f.URL, err)
	}
	return nil
}

// MarkArticles only updates the mirror; there is no remote to tell.
func (b *Backend) MarkArticles(_ context.Context, ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	return b.mirror.UpdateStatuses(ids, key, flag)
}

func (b *Backend) AccountWillBeDeleted(context.Context) error { return nil }

func (b *Backend) SuspendNetwork()        { b.transport.CancelAll() }
func (b *Backend) SuspendDatabase() error { return nil }
func (b *Backend) Resume() error          { return nil }
