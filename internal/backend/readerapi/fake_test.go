package readerapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pders01/fwrdsync/internal/transport"
)

const (
	fakeUser     = "reader"
	fakePassword = "secret"
	fakeAPIKey   = "api-key-1"
	fakeToken    = "action-token"
)

type fakeItem struct {
	stream  string
	title   string
	read    bool
	starred bool
}

// fakeReader is an in-memory Reader API service.
type fakeReader struct {
	mu sync.Mutex

	subs  map[string]*Subscription
	items map[int64]*fakeItem
	// listVersion is the validator served for the tag and subscription
	// lists. Tests change state without bumping it to simulate a stale 304.
	listVersion int

	logins       int
	editTagCalls int
	failEditTag  int
	failTagList  bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		subs:        make(map[string]*Subscription),
		items:       make(map[int64]*fakeItem),
		listVersion: 1,
	}
}

func (f *fakeReader) addSub(id, url, title, folder string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &Subscription{ID: id, URL: url, Title: title, HomePage: "https://example.com/" + title}
	if folder != "" {
		sub.Categories = []Category{{ID: LabelID(folder), Label: folder}}
	}
	f.subs[id] = sub
}

func (f *fakeReader) addItem(id int64, stream, title string, read, starred bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = &fakeItem{stream: stream, title: title, read: read, starred: starred}
}

func (f *fakeReader) bump() {
	f.mu.Lock()
	f.listVersion++
	f.mu.Unlock()
}

func (f *fakeReader) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeReader) editTagCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.editTagCalls
}

func (f *fakeReader) set(fn func(f *fakeReader)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeReader) item(id int64) fakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeReader) sub(id string) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeReader) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeReader) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == pathLogin {
		f.logins++
		if r.PostForm.Get("Email") != fakeUser || r.PostForm.Get("Passwd") != fakePassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "SID=unused\nLSID=unused\nAuth=%s\n", fakeAPIKey)
		return
	}
	if r.Header.Get("Authorization") != "GoogleLogin auth="+fakeAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path != pathToken && r.PostForm.Get("T") != fakeToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case pathToken:
		fmt.Fprintln(w, fakeToken)
	case pathTagList:
		if f.failTagList {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.serveList(w, r, f.tags())
	case pathSubscriptionList:
		f.serveList(w, r, subscriptionContainer{Subscriptions: f.sortedSubs()})
	case pathQuickAdd:
		f.quickAdd(w, r.URL.Query().Get("quickadd"))
	case pathSubscriptionEdit:
		f.editSubscription(w, r.PostForm)
	case pathRenameTag:
		from, to := r.PostForm.Get("s"), r.PostForm.Get("dest")
		for _, sub := range f.subs {
			for i := range sub.Categories {
				if sub.Categories[i].ID == from {
					name, _ := Tag{ID: to}.FolderName()
					sub.Categories[i] = Category{ID: to, Label: name}
				}
			}
		}
	case pathDisableTag:
		tag := r.PostForm.Get("s")
		for _, sub := range f.subs {
			sub.Categories = removeCategory(sub.Categories, tag)
		}
	case pathItemIDs:
		f.itemIDs(w, r.URL.Query())
	case pathContents:
		f.contents(w, r.PostForm["i"])
	case pathEditTag:
		f.editTagCalls++
		if f.failEditTag > 0 {
			f.failEditTag--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.editTag(w, r.PostForm)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeReader) serveList(w http.ResponseWriter, r *http.Request, v any) {
	etag := fmt.Sprintf(`"v%d"`, f.listVersion)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeReader) tags() tagContainer {
	seen := make(map[string]bool)
	out := tagContainer{Tags: []Tag{{ID: stateStarred}}}
	for _, sub := range f.sortedSubs() {
		for _, c := range sub.Categories {
			if !seen[c.ID] {
				seen[c.ID] = true
				out.Tags = append(out.Tags, Tag{ID: c.ID, Type: "folder"})
			}
		}
	}
	return out
}

func (f *fakeReader) sortedSubs() []Subscription {
	subs := make([]Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, *s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

func (f *fakeReader) quickAdd(w http.ResponseWriter, feedURL string) {
	id := "feed/" + feedURL
	if _, ok := f.subs[id]; ok {
		_ = json.NewEncoder(w).Encode(quickAddResult{NumResults: 0, Query: feedURL})
		return
	}
	f.subs[id] = &Subscription{ID: id, URL: feedURL, Title: "Added " + feedURL}
	f.listVersion++
	_ = json.NewEncoder(w).Encode(quickAddResult{NumResults: 1, Query: feedURL, StreamID: id})
}

func (f *fakeReader) editSubscription(w http.ResponseWriter, form map[string][]string) {
	get := func(k string) string {
		if v := form[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	sub, ok := f.subs[get("s")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch get("ac") {
	case "unsubscribe":
		delete(f.subs, sub.ID)
	default:
		if t := get("t"); t != "" {
			sub.Title = t
		}
		if a := get("a"); a != "" {
			name, _ := Tag{ID: a}.FolderName()
			sub.Categories = append(removeCategory(sub.Categories, a), Category{ID: a, Label: name})
		}
		if rm := get("r"); rm != "" {
			sub.Categories = removeCategory(sub.Categories, rm)
		}
	}
	f.listVersion++
	fmt.Fprint(w, "OK")
}

func removeCategory(cats []Category, id string) []Category {
	out := cats[:0]
	for _, c := range cats {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeReader) itemIDs(w http.ResponseWriter, q map[string][]string) {
	stream := q["s"][0]
	excludeRead := len(q["xt"]) > 0
	var refs []itemRef
	for _, id := range f.sortedItemIDs() {
		it := f.items[id]
		switch {
		case stream == stateStarred && !it.starred:
			continue
		case stream != stateStarred && stream != readingList && stream != it.stream:
			continue
		case excludeRead && it.read:
			continue
		}
		refs = append(refs, itemRef{ID: strconv.FormatInt(id, 10)})
	}
	_ = json.NewEncoder(w).Encode(referenceWrapper{ItemRefs: refs})
}

func (f *fakeReader) sortedItemIDs() []int64 {
	ids := make([]int64, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func parseLongID(long string) int64 {
	n, _ := strconv.ParseUint(strings.TrimPrefix(long, itemPrefix), 16, 64)
	return int64(n)
}

func (f *fakeReader) contents(w http.ResponseWriter, longIDs []string) {
	var out entryWrapper
	for _, long := range longIDs {
		it, ok := f.items[parseLongID(long)]
		if !ok {
			continue
		}
		var e Entry
		e.ID = long
		e.Title = it.title
		e.Published = 1700000000
		e.Summary.Content = "<p>" + it.title + "</p>"
		e.Origin.StreamID = it.stream
		e.Alternates = append(e.Alternates, struct {
			Href string `json:"href"`
		}{Href: "https://example.com/" + it.title})
		out.Entries = append(out.Entries, e)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeReader) editTag(w http.ResponseWriter, form map[string][]string) {
	for _, long := range form["i"] {
		it, ok := f.items[parseLongID(long)]
		if !ok {
			continue
		}
		for _, a := range form["a"] {
			setState(it, a, true)
		}
		for _, rm := range form["r"] {
			setState(it, rm, false)
		}
	}
	fmt.Fprint(w, "OK")
}

func setState(it *fakeItem, state string, on bool) {
	switch state {
	case stateRead:
		it.read = on
	case stateStarred:
		it.starred = on
	}
}

func apiKeyCredentials() *transport.Credentials {
	return &transport.Credentials{Kind: transport.ReaderAPIKey, Username: fakeUser, Secret: fakeAPIKey}
}
