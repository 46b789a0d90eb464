package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/search"
	"github.com/pders01/fwrdsync/internal/storage"
)

func TestBuildFeedTree(t *testing.T) {
	folders := []*storage.Folder{
		{ID: "f-tech", Name: "tech"},
		{ID: "f-art", Name: "Art"},
		{ID: "f-empty", Name: "Empty"},
	}
	feeds := []*storage.Feed{
		{ID: "1", Name: "Zeta", FolderID: "f-tech"},
		{ID: "2", Name: "alpha", FolderID: "f-tech"},
		{ID: "3", Name: "Root feed"},
		{ID: "4", URL: "https://museum.example.com/rss", FolderID: "f-art"},
	}

	groups := BuildFeedTree(folders, feeds, map[string]int{"1": 3, "3": 1})
	require.Len(t, groups, 4)

	assert.Nil(t, groups[0].Folder)
	require.Len(t, groups[0].Feeds, 1)
	assert.Equal(t, 1, groups[0].Feeds[0].Unread)

	assert.Equal(t, "Art", groups[1].Folder.Name)
	assert.Equal(t, "Empty", groups[2].Folder.Name)
	assert.Empty(t, groups[2].Feeds)

	tech := groups[3]
	assert.Equal(t, "tech", tech.Folder.Name)
	require.Len(t, tech.Feeds, 2)
	assert.Equal(t, "alpha", tech.Feeds[0].Feed.Name)
	assert.Equal(t, 3, tech.Feeds[1].Unread)

	out := RenderFeedTree(groups, 80)
	for _, want := range []string{"Root feed", "▸ Art", "museum.example.com", "▸ tech", "(3)"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderFeedTree_Empty(t *testing.T) {
	assert.Contains(t, RenderFeedTree(nil, 80), "No subscriptions yet")
}

func TestRenderArticleList(t *testing.T) {
	rows := []ArticleRow{
		{
			Article: &storage.Article{ID: "a1", Title: "Fresh news", Description: "line one\n  line two", Published: time.Now()},
		},
		{
			Article: &storage.Article{ID: "a2", Title: "Old news"},
			Status:  &storage.ArticleStatus{ArticleID: "a2", Read: true, Starred: true},
		},
	}
	out := RenderArticleList(rows, 80, 60)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "●")
	assert.Contains(t, lines[0], "Fresh news")
	assert.Contains(t, lines[1], "line one line two")
	assert.NotContains(t, lines[2], "●")
	assert.Contains(t, lines[2], "★")
	assert.Contains(t, lines[3], "a2")

	assert.Contains(t, RenderArticleList(nil, 80, 60), "No articles")
}

func TestRenderSearchResults(t *testing.T) {
	feed := &storage.Feed{ID: "f", Name: "Go Blog", URL: "https://go.dev/blog/feed.atom"}
	results := []*search.Result{
		{Feed: feed},
		{
			Feed:      feed,
			Article:   &storage.Article{ID: "f:1", Title: "Generics"},
			IsArticle: true,
			Matches:   []search.Match{{Field: "content", Text: "type parameters"}},
		},
	}
	out := RenderSearchResults(results, 80)
	assert.Contains(t, out, "2 results")
	assert.Contains(t, out, "Go Blog")
	assert.Contains(t, out, "Generics")
	assert.Contains(t, out, "from Go Blog")
	assert.Contains(t, out, "type parameters")

	assert.Contains(t, RenderSearchResults(nil, 80), MsgNoResults)
}

func TestRenderAccountStatus(t *testing.T) {
	out := RenderAccountStatus(AccountStatus{
		AccountID: "acct",
		Kind:      "readerapi",
		Endpoint:  "https://reader.example.com",
		Feeds:     3,
		Articles:  10,
		Unread:    4,
		Pending:   2,
		Threshold: 100,
		DocCount:  -1,
		Progress:  progress.Snapshot{Total: 6, Remaining: 2},
	})
	for _, want := range []string{"readerapi", "https://reader.example.com", "10 (4 unread, 0 starred)", "2 (flush above 100)", "never", "2 of 6 tasks left"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "search index")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", truncateEnd("hello", 0))
	assert.Equal(t, "hello", truncateEnd("hello", 5))
	assert.Equal(t, "hel…", truncateEnd("hello", 4))
	assert.Equal(t, "…", truncateEnd("hello", 1))
	assert.Equal(t, "héll…", truncateEnd("héllo wörld", 5))

	assert.Equal(t, "https…m/rss", truncateMiddle("https://example.com/rss", 11))
	assert.Equal(t, "short", truncateMiddle("short", 10))
}
