package discover

import (
	"fmt"
	"net/url"
	"strings"
)

// Reddit turns subreddit pages into their .rss listing.
type Reddit struct{}

func (Reddit) Name() string  { return "reddit" }
func (Reddit) Priority() int { return 50 }

func (Reddit) CanHandle(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return (host == "reddit.com" || host == "old.reddit.com") && strings.HasPrefix(u.Path, "/r/")
}

func (Reddit) Resolve(u *url.URL) (*Result, error) {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("no subreddit in %s", u)
	}
	subreddit := strings.TrimSuffix(parts[1], ".rss")
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, ".rss") {
		path += ".rss"
	}
	return &Result{
		FeedURL: "https://www.reddit.com" + path,
		Title:   "Reddit - r/" + subreddit,
	}, nil
}

// YouTube turns channel and playlist pages into the site's Atom feeds.
type YouTube struct{}

func (YouTube) Name() string  { return "youtube" }
func (YouTube) Priority() int { return 50 }

func (YouTube) CanHandle(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "youtube.com" {
		return false
	}
	return strings.HasPrefix(u.Path, "/channel/") || (u.Path == "/playlist" && u.Query().Get("list") != "")
}

func (YouTube) Resolve(u *url.URL) (*Result, error) {
	const base = "https://www.youtube.com/feeds/videos.xml?"
	if list := u.Query().Get("list"); u.Path == "/playlist" && list != "" {
		return &Result{FeedURL: base + url.Values{"playlist_id": {list}}.Encode()}, nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("no channel id in %s", u)
	}
	return &Result{FeedURL: base + url.Values{"channel_id": {parts[1]}}.Encode()}, nil
}
