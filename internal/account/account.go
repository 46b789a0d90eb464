package account

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
)

// Account is the sync coordinator of one account. It owns the mirror and a
// single backend, and sequences every high-level operation through it.
type Account struct {
	mirror  *Mirror
	backend Backend

	refreshing     atomic.Bool
	onPassFinished func(error)
}

type Option func(*Account)

// WithPassFinished registers the host callback run when a refresh pass
// completes or fails.
func WithPassFinished(fn func(error)) Option {
	return func(a *Account) { a.onPassFinished = fn }
}

func New(mirror *Mirror, backend Backend, opts ...Option) *Account {
	a := &Account{mirror: mirror, backend: backend}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Account) ID() string                  { return a.mirror.AccountID() }
func (a *Account) Kind() Kind                  { return a.backend.Kind() }
func (a *Account) Behaviors() Behaviors        { return a.backend.Behaviors() }
func (a *Account) Mirror() *Mirror             { return a.mirror }
func (a *Account) Progress() *progress.Tracker { return a.backend.Progress() }

func (a *Account) Credentials() *transport.Credentials {
	return a.backend.Credentials()
}

func (a *Account) SetCredentials(creds *transport.Credentials) {
	a.backend.SetCredentials(creds)
}

// Initialize recovers rows left in flight by an interrupted process and
// lets the backend prepare its remote state.
func (a *Account) Initialize(ctx context.Context) error {
	if err := a.mirror.Store().ResetAllSelected(); err != nil {
		return err
	}
	return a.backend.Initialize(ctx)
}

func (a *Account) ReceiveRemoteNotification(ctx context.Context, payload map[string]string) error {
	return a.backend.ReceiveRemoteNotification(ctx, payload)
}

// RefreshAll runs one pass. A call made while a pass is running returns nil
// at once without touching the backend.
func (a *Account) RefreshAll(ctx context.Context) error {
	if !a.refreshing.CompareAndSwap(false, true) {
		debuglog.Debugf("account %s: refresh already running", a.ID())
		return nil
	}
	defer a.refreshing.Store(false)

	err := a.backend.RefreshAll(ctx)
	if err != nil {
		a.backend.Progress().Clear()
		debuglog.WithFields(map[string]any{"account": a.ID(), "kind": a.Kind()}).
			Errorf("refresh failed: %v", err)
	}
	if a.onPassFinished != nil {
		a.onPassFinished(err)
	}
	return err
}

// Refreshing reports whether a pass started through this account is running.
func (a *Account) Refreshing() bool { return a.refreshing.Load() }

func (a *Account) SendArticleStatus(ctx context.Context) error {
	return a.backend.SendArticleStatus(ctx)
}

func (a *Account) RefreshArticleStatus(ctx context.Context) error {
	return a.backend.RefreshArticleStatus(ctx)
}

func (a *Account) CreateFolder(ctx context.Context, name string) (*storage.Folder, error) {
	if a.Behaviors().Has(DisallowFolderManagement) {
		return nil, syncerr.ErrFolderManagement
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, syncerr.New(syncerr.InvalidParameter, "creating folder", "empty folder name")
	}
	return a.backend.CreateFolder(ctx, name)
}

func (a *Account) RenameFolder(ctx context.Context, folder *storage.Folder, name string) error {
	if a.Behaviors().Has(DisallowFolderManagement) {
		return syncerr.ErrFolderManagement
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return syncerr.New(syncerr.InvalidParameter, "renaming folder", "empty folder name")
	}
	return a.backend.RenameFolder(ctx, folder, name)
}

func (a *Account) RemoveFolder(ctx context.Context, folder *storage.Folder) error {
	if a.Behaviors().Has(DisallowFolderManagement) {
		return syncerr.ErrFolderManagement
	}
	return a.backend.RemoveFolder(ctx, folder)
}

// RestoreFolder replays a locally undone folder deletion together with the
// feeds it held.
func (a *Account) RestoreFolder(ctx context.Context, folder *storage.Folder, feeds []*storage.Feed) error {
	return a.backend.RestoreFolder(ctx, folder, feeds)
}

func (a *Account) CreateFeed(ctx context.Context, url, name, container string) (*storage.Feed, error) {
	if err := a.checkContainer(container); err != nil {
		return nil, err
	}
	return a.backend.CreateFeed(ctx, url, name, container)
}

func (a *Account) RenameFeed(ctx context.Context, feed *storage.Feed, name string) error {
	return a.backend.RenameFeed(ctx, feed, strings.TrimSpace(name))
}

func (a *Account) AddFeed(ctx context.Context, feed *storage.Feed, container string) error {
	if err := a.checkContainer(container); err != nil {
		return err
	}
	return a.backend.AddFeed(ctx, feed, container)
}

func (a *Account) RemoveFeed(ctx context.Context, feed *storage.Feed, container string) error {
	return a.backend.RemoveFeed(ctx, feed, container)
}

func (a *Account) MoveFeed(ctx context.Context, feed *storage.Feed, from, to string) error {
	if from == to {
		return nil
	}
	if err := a.checkContainer(to); err != nil {
		return err
	}
	return a.backend.MoveFeed(ctx, feed, from, to)
}

func (a *Account) RestoreFeed(ctx context.Context, feed *storage.Feed, container string) error {
	return a.backend.RestoreFeed(ctx, feed, container)
}

func (a *Account) MarkArticles(ctx context.Context, ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	if !key.Toggles() {
		return nil, syncerr.New(syncerr.InvalidParameter, "marking articles", "unsupported status "+string(key))
	}
	return a.backend.MarkArticles(ctx, ids, key, flag)
}

func (a *Account) AccountWillBeDeleted(ctx context.Context) error {
	return a.backend.AccountWillBeDeleted(ctx)
}

// SuspendNetwork cancels every outstanding request of the backend.
func (a *Account) SuspendNetwork() {
	a.backend.SuspendNetwork()
}

// SuspendDatabase closes the store after the backend released it.
func (a *Account) SuspendDatabase() error {
	if err := a.backend.SuspendDatabase(); err != nil {
		return err
	}
	return a.mirror.Store().Suspend()
}

// Resume reopens the store, returns interrupted in-flight rows to pending
// and resumes the backend.
func (a *Account) Resume() error {
	store := a.mirror.Store()
	if store.Suspended() {
		if err := store.Resume(); err != nil {
			return err
		}
	}
	if err := store.ResetAllSelected(); err != nil {
		return err
	}
	return a.backend.Resume()
}

func (a *Account) checkContainer(container string) error {
	if container == "" {
		if a.Behaviors().Has(DisallowFeedInRootFolder) {
			return syncerr.New(syncerr.InvalidParameter, "choosing container", "feeds must be in a folder")
		}
		return nil
	}
	if _, err := a.mirror.Folder(container); err != nil {
		return syncerr.Wrap(syncerr.InvalidParameter, "choosing container", err)
	}
	return nil
}
