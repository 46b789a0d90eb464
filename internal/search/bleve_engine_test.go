package search

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/storage"
)

func seedStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveFeed(&storage.Feed{ID: "f1", Name: "Test Feed", URL: "https://example.com/feed"}))
	require.NoError(t, store.SaveArticles([]*storage.Article{
		{ID: "a1", FeedID: "f1", Title: "Hello World", Description: "greeting article", URL: "https://example.com/1"},
		{ID: "a2", FeedID: "f1", Title: "Golang Tips", Description: "bleve and search", URL: "https://example.com/2", Content: "Using bleve for full text search"},
	}))
	return store
}

func TestIndex_IndexesAndSearches(t *testing.T) {
	store := seedStore(t)
	idxPath := filepath.Join(t.TempDir(), "index.bleve")
	ix, err := OpenIndex(store, idxPath)
	require.NoError(t, err)
	defer ix.Close()

	res, err := ix.Search("Golang", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.True(t, res[0].IsArticle)
	assert.Equal(t, "a2", res[0].Article.ID)
	require.NotNil(t, res[0].Feed)
	assert.Equal(t, "Test Feed", res[0].Feed.Name)

	res, err = ix.Search("gol", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, res, "prefix should match")

	n, err := ix.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fi, err := os.Stat(idxPath)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestIndex_FollowsMirror(t *testing.T) {
	store := seedStore(t)
	ix, err := OpenIndex(store, filepath.Join(t.TempDir(), "index.bleve"))
	require.NoError(t, err)
	defer ix.Close()

	m := account.NewMirror("acct", store)
	m.AddListener(ix)

	f, err := m.Feed("f1")
	require.NoError(t, err)
	_, err = m.UpdateFeedArticles(f, []*storage.Article{
		{ID: "a1", Title: "Hello World", Description: "greeting article", URL: "https://example.com/1"},
		{ID: "a2", Title: "Golang Tips", Description: "bleve and search", URL: "https://example.com/2", Content: "Using bleve for full text search"},
		{ID: "a3", Title: "Rust Ownership", URL: "https://example.com/3"},
	}, false)
	require.NoError(t, err)

	res, err := ix.Search("ownership", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a3", res[0].Article.ID)

	require.NoError(t, m.RemoveFeeds([]string{"f1"}))
	n, err := ix.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndex_ReopenKeepsDocuments(t *testing.T) {
	store := seedStore(t)
	path := filepath.Join(t.TempDir(), "index.bleve")
	ix, err := OpenIndex(store, path)
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	ix, err = OpenIndex(store, path)
	require.NoError(t, err)
	defer ix.Close()
	res, err := ix.Search("greeting", 10)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}
