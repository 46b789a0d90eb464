// Package discover turns what a user types into a subscribable feed URL.
// Site resolvers rewrite known page URLs; anything else is fetched and, when
// it is an HTML page, searched for feed links.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/transport"
)

// Result is the feed found for an address.
type Result struct {
	Input   string
	FeedURL string
	// Title is a suggested display name; empty leaves the feed's own title.
	Title    string
	Resolver string
}

// Resolver rewrites addresses of one site without touching the network.
type Resolver interface {
	Name() string
	CanHandle(u *url.URL) bool
	Resolve(u *url.URL) (*Result, error)
	// Priority breaks ties between resolvers; higher wins.
	Priority() int
}

type Discoverer struct {
	resolvers []Resolver
	transport transport.Transport
}

// New returns a Discoverer with the built-in site resolvers. A nil transport
// disables page discovery.
func New(t transport.Transport) *Discoverer {
	d := &Discoverer{transport: t}
	d.Register(Reddit{})
	d.Register(YouTube{})
	return d
}

func (d *Discoverer) Register(r Resolver) {
	d.resolvers = append(d.resolvers, r)
	sort.SliceStable(d.resolvers, func(i, j int) bool {
		return d.resolvers[i].Priority() > d.resolvers[j].Priority()
	})
}

// Resolvers lists the registered resolvers, highest priority first.
func (d *Discoverer) Resolvers() []Resolver {
	return append([]Resolver(nil), d.resolvers...)
}

func (d *Discoverer) find(u *url.URL) Resolver {
	for _, r := range d.resolvers {
		if r.CanHandle(u) {
			return r
		}
	}
	return nil
}

// Discover finds the feed for raw. Addresses no resolver knows are fetched;
// a feed document is returned as is and an HTML page yields its first
// advertised feed. When nothing better is found the input is returned.
func (d *Discoverer) Discover(ctx context.Context, raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid address %q", raw)
	}
	if r := d.find(u); r != nil {
		res, err := r.Resolve(u)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		res.Input = raw
		res.Resolver = r.Name()
		return res, nil
	}

	plain := &Result{Input: raw, FeedURL: raw}
	if d.transport == nil {
		return plain, nil
	}
	resp, err := d.transport.Send(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    raw,
		Header: http.Header{"Accept": []string{"text/html, application/xhtml+xml, application/rss+xml, application/atom+xml"}},
	})
	if err != nil {
		debuglog.Debugf("discover: fetching %s: %v", raw, err)
		return plain, nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return plain, nil
	}
	found, err := FeedLinks(u, resp.Body)
	if err != nil || len(found) == 0 {
		return plain, nil
	}
	return &Result{Input: raw, FeedURL: found[0], Resolver: "html"}, nil
}

var feedTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
	"application/json",
}

// FeedLinks returns the feed URLs a page advertises with
// <link rel="alternate">, resolved against base, RSS and Atom first.
func FeedLinks(base *url.URL, page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	byType := make(map[string][]string)
	seen := make(map[string]bool)
	doc.Find(`link[rel~="alternate"][href]`).Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		href, err := base.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil || href.String() == "" || seen[href.String()] {
			return
		}
		seen[href.String()] = true
		byType[typ] = append(byType[typ], href.String())
	})

	var out []string
	for _, typ := range feedTypes {
		out = append(out, byType[typ]...)
	}
	return out, nil
}
