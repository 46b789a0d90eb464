package feed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/transport"
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml"

// Fetcher downloads feed documents. Validators are kept in the store's
// conditional-fetch cache keyed by feed URL.
type Fetcher struct {
	transport   transport.Transport
	store       *storage.Store
	ignoreCache bool
}

func NewFetcher(t transport.Transport, store *storage.Store) *Fetcher {
	return &Fetcher{transport: t, store: store}
}

// SetIgnoreCache makes every fetch unconditional.
func (f *Fetcher) SetIgnoreCache(ignore bool) {
	f.ignoreCache = ignore
}

// Fetch returns the response and whether it carries a new document. A 304
// returns (nil, false, nil).
func (f *Fetcher) Fetch(ctx context.Context, feed *storage.Feed) (*transport.Response, bool, error) {
	req := &transport.Request{
		Method: http.MethodGet,
		URL:    feed.URL,
		Header: http.Header{"Accept": []string{acceptHeader}},
	}
	if !f.ignoreCache {
		info, err := f.store.ConditionalGet(feed.URL)
		if err != nil {
			return nil, false, fmt.Errorf("reading conditional-fetch cache: %w", err)
		}
		req.Conditional = info
	}

	resp, err := f.transport.Send(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching feed %s: %w", feed.URL, err)
	}
	if resp.NotModified() {
		debuglog.Debugf("feed %s not modified", feed.URL)
		return nil, false, nil
	}
	return resp, true, nil
}

// Remember stores the response validators once its document was applied.
func (f *Fetcher) Remember(feed *storage.Feed, resp *transport.Response) error {
	info := resp.ConditionalGet()
	if info == nil {
		return nil
	}
	return f.store.SetConditionalGet(feed.URL, info)
}
