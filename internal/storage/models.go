package storage

import (
	"time"
)

// Feed is a subscription in the local mirror. ID is derived from the URL and
// is stable before the backend assigns ExternalID.
type Feed struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	URL         string    `json:"url"`
	ExternalID  string    `json:"external_id,omitempty"`
	Name        string    `json:"name"`
	EditedName  string    `json:"edited_name,omitempty"`
	HomePageURL string    `json:"home_page_url,omitempty"`
	FolderID    string    `json:"folder_id,omitempty"`
	LastFetched time.Time `json:"last_fetched"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisplayName prefers the user's edited name over the feed's own title.
func (f *Feed) DisplayName() string {
	switch {
	case f.EditedName != "":
		return f.EditedName
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
}

// Folder groups feeds. Folders do not nest.
type Folder struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
}

// Article content is immutable once ingested; status lives in ArticleStatus.
type Article struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	FeedID      string    `json:"feed_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	Published   time.Time `json:"published"`
	Updated     time.Time `json:"updated"`
	MediaURLs   []string  `json:"media_urls"`
}

// ArticleStatus holds the mutable flags of an article. A status may exist
// before its article content has been downloaded.
type ArticleStatus struct {
	ArticleID   string    `json:"article_id"`
	Read        bool      `json:"read"`
	Starred     bool      `json:"starred"`
	DateArrived time.Time `json:"date_arrived"`
}

// Flag returns the value of the flag named by key.
func (s *ArticleStatus) Flag(key StatusKey) bool {
	switch key {
	case StatusRead:
		return s.Read
	case StatusStarred:
		return s.Starred
	default:
		return false
	}
}

// SetFlag sets the flag named by key and reports whether it changed.
func (s *ArticleStatus) SetFlag(key StatusKey, flag bool) bool {
	switch key {
	case StatusRead:
		if s.Read == flag {
			return false
		}
		s.Read = flag
	case StatusStarred:
		if s.Starred == flag {
			return false
		}
		s.Starred = flag
	default:
		return false
	}
	return true
}

// StatusKey names a mutable article flag.
type StatusKey string

const (
	StatusRead    StatusKey = "read"
	StatusStarred StatusKey = "starred"
	StatusDeleted StatusKey = "deleted"
	// StatusNew marks article content that must be uploaded to the backend.
	StatusNew StatusKey = "new"
)

// Toggles reports whether the key is a user-facing flag whose opposite values
// cancel each other while both are still pending.
func (k StatusKey) Toggles() bool {
	return k == StatusRead || k == StatusStarred
}

// SyncStatus is a pending status mutation not yet acknowledged by the backend.
// At most one exists per (ArticleID, Key).
type SyncStatus struct {
	ArticleID  string    `json:"article_id"`
	Key        StatusKey `json:"key"`
	Flag       bool      `json:"flag"`
	Selected   bool      `json:"selected"`
	Seq        uint64    `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Sticky rows were written over an in-flight row. The remote value is
	// unknown until they are sent, so an opposite flag overwrites them
	// instead of cancelling.
	Sticky bool `json:"sticky,omitempty"`
}

// ConditionalGetInfo is the validator captured from a previous fetch.
type ConditionalGetInfo struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// IsEmpty reports whether the info carries no validator.
func (c *ConditionalGetInfo) IsEmpty() bool {
	return c == nil || (c.ETag == "" && c.LastModified == "")
}
