package cloud

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/storage"
)

func openTestBolt(t *testing.T, path string) *BoltDatabase {
	t.Helper()
	db, err := OpenBoltDatabase(path, time.Second)
	require.NoError(t, err)
	return db
}

func TestBoltDatabase_ChangesAndPaging(t *testing.T) {
	ctx := context.Background()
	db := openTestBolt(t, filepath.Join(t.TempDir(), "cloud.db"))
	defer db.Close()
	db.SetPageSize(2)

	_, err := db.FetchChanges(ctx, "Test", nil)
	require.ErrorIs(t, err, ErrZoneNotFound)

	require.NoError(t, db.CreateZone(ctx, "Test"))
	var records []*Record
	for _, id := range []string{"a", "b", "c"} {
		r := NewRecord("Thing", id)
		r.Set("name", id)
		records = append(records, r)
	}
	require.NoError(t, db.Save(ctx, "Test", records, true))

	cs, err := db.FetchChanges(ctx, "Test", nil)
	require.NoError(t, err)
	assert.Len(t, cs.Updated, 3)
	token := cs.Token

	require.NoError(t, db.Delete(ctx, "Test", []string{"a"}))
	update := NewRecord("Thing", "b")
	update.Set("extra", "1")
	require.NoError(t, db.Save(ctx, "Test", []*Record{update}, false))
	require.NoError(t, db.Save(ctx, "Test", []*Record{NewRecord("Thing", "d")}, false))

	cs, err = db.FetchChanges(ctx, "Test", token)
	require.NoError(t, err)
	assert.True(t, cs.MoreComing)
	assert.Equal(t, []string{"a"}, cs.Deleted)
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, "b", cs.Updated[0].Get("name"))
	assert.Equal(t, "1", cs.Updated[0].Get("extra"))

	cs, err = db.FetchChanges(ctx, "Test", cs.Token)
	require.NoError(t, err)
	assert.False(t, cs.MoreComing)
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, "d", cs.Updated[0].ID)

	cs, err = db.FetchChanges(ctx, "Test", cs.Token)
	require.NoError(t, err)
	assert.Empty(t, cs.Updated)
	assert.Empty(t, cs.Deleted)
}

func TestBoltDatabase_CreateConflictAndQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestBolt(t, filepath.Join(t.TempDir(), "cloud.db"))
	defer db.Close()
	require.NoError(t, db.CreateZone(ctx, "Test"))

	r := NewRecord("Feed", "f1")
	r.Set("url", "https://example.com/feed")
	r.Refs = []string{"folder-1"}
	require.NoError(t, db.Save(ctx, "Test", []*Record{r}, true))

	err := db.Save(ctx, "Test", []*Record{NewRecord("Feed", "f1")}, true)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "https://example.com/feed", conflict.Server.Get("url"))

	found, err := db.Query(ctx, "Test", Filter{Type: "Feed", Ref: "folder-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "f1", found[0].ID)

	_, err = db.Fetch(ctx, "Test", "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBoltDatabase_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cloud.db")

	db := openTestBolt(t, path)
	require.NoError(t, db.CreateZone(ctx, "Test"))
	require.NoError(t, db.Save(ctx, "Test", []*Record{NewRecord("Thing", "a")}, true))
	cs, err := db.FetchChanges(ctx, "Test", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openTestBolt(t, path)
	defer db.Close()
	require.NoError(t, db.Save(ctx, "Test", []*Record{NewRecord("Thing", "b")}, true))
	next, err := db.FetchChanges(ctx, "Test", cs.Token)
	require.NoError(t, err)
	require.Len(t, next.Updated, 1)
	assert.Equal(t, "b", next.Updated[0].ID)
}

func TestBoltDatabase_DeletedZone(t *testing.T) {
	ctx := context.Background()
	db := openTestBolt(t, filepath.Join(t.TempDir(), "cloud.db"))
	defer db.Close()
	require.NoError(t, db.CreateZone(ctx, "Test"))
	require.NoError(t, db.Save(ctx, "Test", []*Record{NewRecord("Thing", "a")}, true))
	cs, err := db.FetchChanges(ctx, "Test", nil)
	require.NoError(t, err)

	require.NoError(t, db.DeleteZone("Test"))
	_, err = db.FetchChanges(ctx, "Test", cs.Token)
	assert.ErrorIs(t, err, ErrUserDeletedZone)
	assert.ErrorIs(t, db.Save(ctx, "Test", []*Record{NewRecord("Thing", "b")}, false), ErrZoneNotFound)

	require.NoError(t, db.CreateZone(ctx, "Test"))
	_, err = db.FetchChanges(ctx, "Test", cs.Token)
	assert.ErrorIs(t, err, ErrChangeTokenExpired)
	fresh, err := db.FetchChanges(ctx, "Test", nil)
	require.NoError(t, err)
	assert.Empty(t, fresh.Updated)
}

func TestBoltDatabase_BackendRoundTrip(t *testing.T) {
	pub, srv := startPublisher(t)
	pub.set("/news", 3)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cloud.db")

	db := openTestBolt(t, path)
	a, am := newCloudBackend(t, db, "a", Options{})
	require.NoError(t, a.Initialize(ctx))
	f, err := a.CreateFeed(ctx, srv.URL+"/news", "", "")
	require.NoError(t, err)
	ids := articleIDs(t, am, f)
	require.Len(t, ids, 3)
	_, err = a.MarkArticles(ctx, ids[:1], storage.StatusStarred, true)
	require.NoError(t, err)
	require.NoError(t, a.SendArticleStatus(ctx))
	require.NoError(t, db.Close())

	db = openTestBolt(t, path)
	defer db.Close()
	b, bm := newCloudBackend(t, db, "b", Options{})
	require.NoError(t, b.Initialize(ctx))

	bFeed, err := bm.FeedByExternalID(f.ExternalID)
	require.NoError(t, err)
	require.NotNil(t, bFeed)
	assert.Equal(t, ids, articleIDs(t, bm, bFeed))
	st, err := bm.Store().GetStatus(ids[0])
	require.NoError(t, err)
	assert.True(t, st.Starred)
}
