// Package account holds the sync coordinator and the contract every remote
// backend implements.
package account

import (
	"context"

	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/transport"
)

// Kind tags a backend variant.
type Kind string

const (
	KindLocal        Kind = "local"
	KindReaderAPI    Kind = "readerapi"
	KindCloud        Kind = "cloud"
	KindFeedWrangler Kind = "feedwrangler"
)

const (
	DefaultFlushThreshold = 100
	DefaultChunkSize      = 100
)

// Behaviors lists capabilities a backend does not support.
type Behaviors uint

const (
	DisallowFolderManagement Behaviors = 1 << iota
	DisallowFeedInRootFolder
	DisallowFeedInMultipleFolders
	DisallowOPMLImport
)

func (b Behaviors) Has(flag Behaviors) bool { return b&flag != 0 }

// ValidateFunc performs a trial authentication without touching persistent
// state. It returns refreshed credentials on success, nil when the backend
// has no credentials at all, or an error.
type ValidateFunc func(ctx context.Context, t transport.Transport, creds *transport.Credentials) (*transport.Credentials, error)

// Backend is one remote integration. The coordinator holds exactly one per
// account and never looks at the concrete type.
//
// Container arguments are folder IDs; "" is the account root.
type Backend interface {
	Kind() Kind
	Behaviors() Behaviors

	Credentials() *transport.Credentials
	SetCredentials(creds *transport.Credentials)

	// Progress is the tracker of the current pass.
	Progress() *progress.Tracker

	Initialize(ctx context.Context) error
	ReceiveRemoteNotification(ctx context.Context, payload map[string]string) error

	// RefreshAll runs one full pass. It is a no-op returning nil while a
	// pass is already running.
	RefreshAll(ctx context.Context) error
	SendArticleStatus(ctx context.Context) error
	RefreshArticleStatus(ctx context.Context) error

	CreateFolder(ctx context.Context, name string) (*storage.Folder, error)
	RenameFolder(ctx context.Context, folder *storage.Folder, name string) error
	RemoveFolder(ctx context.Context, folder *storage.Folder) error
	RestoreFolder(ctx context.Context, folder *storage.Folder, feeds []*storage.Feed) error

	CreateFeed(ctx context.Context, url, name, container string) (*storage.Feed, error)
	RenameFeed(ctx context.Context, feed *storage.Feed, name string) error
	AddFeed(ctx context.Context, feed *storage.Feed, container string) error
	RemoveFeed(ctx context.Context, feed *storage.Feed, container string) error
	MoveFeed(ctx context.Context, feed *storage.Feed, from, to string) error
	RestoreFeed(ctx context.Context, feed *storage.Feed, container string) error

	// MarkArticles sets key to flag locally and queues the change for the
	// remote. It returns the ids whose status actually changed.
	MarkArticles(ctx context.Context, articleIDs []string, key storage.StatusKey, flag bool) ([]string, error)

	AccountWillBeDeleted(ctx context.Context) error

	SuspendNetwork()
	SuspendDatabase() error
	Resume() error
}

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]T
	for len(items) > size {
		chunks = append(chunks, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}
