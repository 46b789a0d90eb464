package feedwrangler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pders01/fwrdsync/internal/transport"
)

const (
	fakeEmail    = "reader@example.com"
	fakePassword = "secret"
	fakeToken    = "token-1"
)

type fakeItem struct {
	feedID  int64
	title   string
	created int64
	read    bool
	starred bool
}

// fakeWrangler is an in-memory Feed Wrangler service.
type fakeWrangler struct {
	mu sync.Mutex

	subs   map[int64]*Subscription
	items  map[int64]*fakeItem
	nextID int64

	logins      int
	logouts     int
	updates     int
	failUpdates int
	// unknownFeeds lists feed URLs add_feed_and_wait cannot find.
	unknownFeeds map[string]bool
}

func newFakeWrangler() *fakeWrangler {
	return &fakeWrangler{
		subs:         make(map[int64]*Subscription),
		items:        make(map[int64]*fakeItem),
		nextID:       100,
		unknownFeeds: make(map[string]bool),
	}
}

func (f *fakeWrangler) addSub(id int64, feedURL, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = &Subscription{FeedID: id, FeedURL: feedURL, Title: title, SiteURL: "https://example.com/" + title}
}

func (f *fakeWrangler) addItem(id, feedID int64, title string, read, starred bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := time.Now().Add(-time.Hour).Unix() + id
	f.items[id] = &fakeItem{feedID: feedID, title: title, created: created, read: read, starred: starred}
}

func (f *fakeWrangler) set(fn func(f *fakeWrangler)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeWrangler) item(id int64) fakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeWrangler) sub(id int64) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeWrangler) counts() (logins, logouts, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.logouts, f.updates
}

func (f *fakeWrangler) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func replyError(w http.ResponseWriter, msg string) {
	reply(w, envelope{Result: "error", Error: msg})
}

var success = envelope{Result: resultSuccess}

func (f *fakeWrangler) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == pathAuthorize {
		f.logins++
		if q.Get("email") != fakeEmail || q.Get("password") != fakePassword {
			replyError(w, "Invalid email or password")
			return
		}
		reply(w, authorizeResult{envelope: success, AccessToken: fakeToken})
		return
	}
	if q.Get("access_token") != fakeToken {
		replyError(w, "Invalid access token")
		return
	}

	switch r.URL.Path {
	case pathLogout:
		f.logouts++
		reply(w, success)
	case pathSubscriptions:
		reply(w, subscriptionList{envelope: success, Feeds: f.sortedSubs()})
	case pathAddFeed:
		f.addFeed(w, q.Get("feed_url"))
	case pathRemoveFeed:
		id, _ := strconv.ParseInt(q.Get("feed_id"), 10, 64)
		if _, found := f.subs[id]; !found {
			replyError(w, "Feed not found")
			return
		}
		delete(f.subs, id)
		reply(w, success)
	case pathRenameFeed:
		id, _ := strconv.ParseInt(q.Get("feed_id"), 10, 64)
		sub, found := f.subs[id]
		if !found {
			replyError(w, "Feed not found")
			return
		}
		sub.Title = q.Get("feed_name")
		reply(w, success)
	case pathFeedItems:
		f.list(w, q)
	case pathFeedItemsByID:
		var out []FeedItem
		for _, s := range strings.Split(q.Get("feed_item_ids"), ",") {
			id, _ := strconv.ParseInt(s, 10, 64)
			if it, found := f.items[id]; found {
				out = append(out, f.feedItem(id, it))
			}
		}
		reply(w, feedItemList{envelope: success, Count: len(out), FeedItems: out})
	case pathUpdateFeedItem:
		f.update(w, q)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWrangler) sortedSubs() []Subscription {
	subs := make([]Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, *s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].FeedID < subs[j].FeedID })
	return subs
}

func (f *fakeWrangler) addFeed(w http.ResponseWriter, feedURL string) {
	if f.unknownFeeds[feedURL] {
		replyError(w, "Could not find a feed at that address")
		return
	}
	for _, s := range f.subs {
		if s.FeedURL == feedURL {
			reply(w, addFeedResult{envelope: success, Feed: s})
			return
		}
	}
	f.nextID++
	sub := &Subscription{FeedID: f.nextID, FeedURL: feedURL, Title: "Added " + feedURL}
	f.subs[sub.FeedID] = sub
	f.items[f.nextID*10] = &fakeItem{feedID: sub.FeedID, title: "welcome", created: 1700000000}
	reply(w, addFeedResult{envelope: success, Feed: sub})
}

func (f *fakeWrangler) feedItem(id int64, it *fakeItem) FeedItem {
	return FeedItem{
		ID:          id,
		PublishedAt: it.created,
		CreatedAt:   it.created,
		Read:        it.read,
		Starred:     it.starred,
		URL:         "https://example.com/" + it.title,
		Title:       it.title,
		Body:        "<p>" + it.title + "</p>",
		FeedID:      it.feedID,
	}
}

func (f *fakeWrangler) list(w http.ResponseWriter, q url.Values) {
	ids := make([]int64, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	since, _ := strconv.ParseInt(q.Get("created_since"), 10, 64)
	feedID, _ := strconv.ParseInt(q.Get("feed_id"), 10, 64)
	var matched []FeedItem
	for _, id := range ids {
		it := f.items[id]
		switch {
		case q.Has("read") && strconv.FormatBool(it.read) != q.Get("read"):
			continue
		case q.Has("starred") && strconv.FormatBool(it.starred) != q.Get("starred"):
			continue
		case feedID != 0 && it.feedID != feedID:
			continue
		case since != 0 && it.created < since:
			continue
		}
		matched = append(matched, f.feedItem(id, it))
	}

	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := matched[offset:end]
	reply(w, feedItemList{envelope: success, Count: len(page), FeedItems: page})
}

func (f *fakeWrangler) update(w http.ResponseWriter, q url.Values) {
	f.updates++
	if f.failUpdates > 0 {
		f.failUpdates--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	id, _ := strconv.ParseInt(q.Get("feed_item_id"), 10, 64)
	it, found := f.items[id]
	if !found {
		replyError(w, "Feed item not found")
		return
	}
	if v := q.Get("read"); v != "" {
		it.read = v == "true"
	}
	if v := q.Get("starred"); v != "" {
		it.starred = v == "true"
	}
	reply(w, feedItemResult{envelope: success, FeedItem: &FeedItem{ID: id, Read: it.read, Starred: it.starred}})
}

func passwordCredentials() *transport.Credentials {
	return &transport.Credentials{Kind: transport.Basic, Username: fakeEmail, Secret: fakePassword}
}
