package feedwrangler

import (
	"strconv"
	"time"
)

const resultSuccess = "success"

// envelope is carried by every response.
type envelope struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (e *envelope) failed() bool { return e.Result != resultSuccess }

type authorizeResult struct {
	envelope
	AccessToken string `json:"access_token"`
}

// Subscription is one feed the user follows. The service has no folders.
type Subscription struct {
	FeedID  int64  `json:"feed_id"`
	Title   string `json:"title"`
	FeedURL string `json:"feed_url"`
	SiteURL string `json:"site_url"`
}

// ExternalID is the id stored on the local feed.
func (s *Subscription) ExternalID() string { return strconv.FormatInt(s.FeedID, 10) }

type subscriptionList struct {
	envelope
	Feeds []Subscription `json:"feeds"`
}

type addFeedResult struct {
	envelope
	Feed *Subscription `json:"feed"`
}

type FeedItem struct {
	ID          int64  `json:"feed_item_id"`
	PublishedAt int64  `json:"published_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	Starred     bool   `json:"starred"`
	Read        bool   `json:"read"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Author      string `json:"author,omitempty"`
	FeedID      int64  `json:"feed_id"`
	FeedName    string `json:"feed_name"`
}

// ArticleID is the item id used for articles and statuses.
func (i *FeedItem) ArticleID() string { return strconv.FormatInt(i.ID, 10) }

func (i *FeedItem) FeedExternalID() string { return strconv.FormatInt(i.FeedID, 10) }

// Published falls back to the time the service first saw the item.
func (i *FeedItem) Published() time.Time {
	switch {
	case i.PublishedAt > 0:
		return time.Unix(i.PublishedAt, 0)
	case i.CreatedAt > 0:
		return time.Unix(i.CreatedAt, 0)
	}
	return time.Time{}
}

func (i *FeedItem) Updated() time.Time {
	if i.UpdatedAt == 0 {
		return time.Time{}
	}
	return time.Unix(i.UpdatedAt, 0)
}

type feedItemList struct {
	envelope
	Count     int        `json:"count"`
	FeedItems []FeedItem `json:"feed_items"`
}

type feedItemResult struct {
	envelope
	FeedItem *FeedItem `json:"feed_item"`
}
