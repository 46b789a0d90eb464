package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/transport"
)

const DefaultConcurrency = 5

// IngestFunc applies a downloaded document to the mirror.
type IngestFunc func(feed *storage.Feed, parsed *Parsed) error

// Refresher downloads feeds directly from their publishers with bounded
// concurrency. It is shared by backends that have no server-side fetcher.
type Refresher struct {
	fetcher     *Fetcher
	parser      *Parser
	ingest      IngestFunc
	concurrency int
}

func NewRefresher(t transport.Transport, store *storage.Store, ingest IngestFunc, concurrency int) *Refresher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Refresher{
		fetcher:     NewFetcher(t, store),
		parser:      NewParser(),
		ingest:      ingest,
		concurrency: concurrency,
	}
}

// SetForceRefresh ignores cached validators.
func (r *Refresher) SetForceRefresh(force bool) {
	r.fetcher.SetIgnoreCache(force)
}

// Download fetches and parses one feed without ingesting it. A nil Parsed
// with nil error means the feed was not modified.
func (r *Refresher) Download(ctx context.Context, feed *storage.Feed) (*Parsed, error) {
	resp, updated, err := r.fetcher.Fetch(ctx, feed)
	if err != nil || !updated {
		return nil, err
	}
	parsed, err := r.parser.Parse(bytes.NewReader(resp.Body), feed)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.URL, err)
	}
	if err := r.fetcher.Remember(feed, resp); err != nil {
		debuglog.Warnf("storing validators for %s: %v", feed.URL, err)
	}
	return parsed, nil
}

// RefreshFeed downloads one feed and ingests it when modified.
func (r *Refresher) RefreshFeed(ctx context.Context, feed *storage.Feed) error {
	parsed, err := r.Download(ctx, feed)
	if err != nil {
		return err
	}
	feed.LastFetched = time.Now()
	if parsed == nil {
		return nil
	}
	return r.ingest(feed, parsed)
}

// RefreshAll refreshes every feed, completing one task on tracker per feed
// whether it succeeded or not. Failures of single feeds do not stop the
// others; they are joined into the returned error.
func (r *Refresher) RefreshAll(ctx context.Context, feeds []*storage.Feed, tracker *progress.Tracker) error {
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	var errs []error
	for _, feed := range feeds {
		g.Go(func() error {
			if tracker != nil {
				defer tracker.CompleteTask()
			}
			if ctx.Err() != nil {
				return nil
			}
			if err := r.RefreshFeed(ctx, feed); err != nil {
				debuglog.Warnf("refreshing %s: %v", feed.URL, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) == 0 {
		return ctx.Err()
	}
	return errors.Join(errs...)
}
