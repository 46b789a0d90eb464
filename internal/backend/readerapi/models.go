package readerapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	labelPrefix = "user/-/label/"
	itemPrefix  = "tag:google.com,2005:reader/item/"

	stateRead    = "user/-/state/com.google/read"
	stateStarred = "user/-/state/com.google/starred"
	readingList  = "user/-/state/com.google/reading-list"
)

// LabelID is the stream id of the tag used as folder name.
func LabelID(name string) string { return labelPrefix + name }

type Tag struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// FolderName returns the label name for user label tags.
func (t Tag) FolderName() (string, bool) {
	i := strings.Index(t.ID, "/label/")
	if i < 0 {
		return "", false
	}
	return t.ID[i+len("/label/"):], true
}

type tagContainer struct {
	Tags []Tag `json:"tags"`
}

type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	HomePage   string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl,omitempty"`
	Categories []Category `json:"categories"`
}

// Folder returns the first label category of the subscription, with its
// label filled in from the id when the service omits it.
func (s *Subscription) Folder() (Category, bool) {
	for _, c := range s.Categories {
		name, ok := Tag{ID: c.ID}.FolderName()
		if !ok {
			continue
		}
		if c.Label == "" {
			c.Label = name
		}
		return c, true
	}
	return Category{}, false
}

type subscriptionContainer struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

type quickAddResult struct {
	NumResults int    `json:"numResults"`
	Query      string `json:"query"`
	StreamID   string `json:"streamId"`
}

type itemRef struct {
	ID string `json:"id"`
}

type referenceWrapper struct {
	ItemRefs     []itemRef `json:"itemRefs"`
	Continuation string    `json:"continuation,omitempty"`
}

type Entry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Published  int64    `json:"published"`
	Updated    int64    `json:"updated,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Summary    struct {
		Content string `json:"content"`
	} `json:"summary"`
	Alternates []struct {
		Href string `json:"href"`
	} `json:"alternate"`
	Origin struct {
		StreamID string `json:"streamId"`
		Title    string `json:"title"`
	} `json:"origin"`
}

func (e *Entry) URL() string {
	if len(e.Alternates) > 0 {
		return e.Alternates[0].Href
	}
	return ""
}

func (e *Entry) PublishedTime() time.Time {
	if e.Published == 0 {
		return time.Time{}
	}
	return time.Unix(e.Published, 0)
}

type entryWrapper struct {
	ID      string  `json:"id"`
	Updated int64   `json:"updated"`
	Entries []Entry `json:"items"`
}

// longItemID converts an item id as returned by stream/items/ids into the
// long form accepted by the contents and edit-tag endpoints. Decimal ids are
// re-encoded as 16 hex digits; hex ids pass through.
func longItemID(id string, hexIDs bool) (string, error) {
	if hexIDs {
		return itemPrefix + id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", fmt.Errorf("item id %q: %w", id, err)
	}
	return fmt.Sprintf("%s%016x", itemPrefix, uint64(n)), nil
}

// shortItemID is the inverse of longItemID.
func shortItemID(long string, hexIDs bool) (string, error) {
	hex := strings.TrimPrefix(long, itemPrefix)
	if hexIDs {
		return hex, nil
	}
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return "", fmt.Errorf("item id %q: %w", long, err)
	}
	return strconv.FormatInt(int64(n), 10), nil
}
