package readerapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
)

func newTestCaller(t *testing.T, endpoint string, creds *transport.Credentials) *Caller {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "caller.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := NewCaller(transport.NewHTTP(), store, Config{Endpoint: endpoint + "/"})
	c.SetCredentials(creds)
	return c
}

func TestItemIDConversion(t *testing.T) {
	long, err := longItemID("123456789", false)
	require.NoError(t, err)
	assert.Equal(t, itemPrefix+"00000000075bcd15", long)

	short, err := shortItemID(long, false)
	require.NoError(t, err)
	assert.Equal(t, "123456789", short)

	long, err = longItemID("5c1f3b2a", true)
	require.NoError(t, err)
	assert.Equal(t, itemPrefix+"5c1f3b2a", long)

	_, err = longItemID("not-a-number", false)
	assert.Error(t, err)
}

func TestSubscriptionFolder(t *testing.T) {
	sub := Subscription{Categories: []Category{
		{ID: stateStarred},
		{ID: "user/1005921515/label/Tech"},
	}}
	cat, ok := sub.Folder()
	require.True(t, ok)
	assert.Equal(t, "Tech", cat.Label)

	_, ok = (&Subscription{}).Folder()
	assert.False(t, ok)

	_, ok = Tag{ID: stateRead}.FolderName()
	assert.False(t, ok)
}

func TestCaller_LoginOnceWithPassword(t *testing.T) {
	fake := newFakeReader()
	fake.addSub("feed/1", "https://one.example.com/rss", "one", "Tech")
	srv := fake.start(t)

	c := newTestCaller(t, srv.URL, &transport.Credentials{
		Kind: transport.ReaderBasic, Username: fakeUser, Secret: fakePassword,
	})
	ctx := context.Background()

	tags, changed, err := c.Tags(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, tags, 2)

	_, _, err = c.Subscriptions(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.loginCount())
	assert.Equal(t, transport.ReaderAPIKey, c.Credentials().Kind)
	assert.Equal(t, fakeAPIKey, c.Credentials().Secret)
}

func TestCaller_ConditionalLists(t *testing.T) {
	fake := newFakeReader()
	fake.addSub("feed/1", "https://one.example.com/rss", "one", "")
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, apiKeyCredentials())
	ctx := context.Background()

	subs, changed, err := c.Subscriptions(ctx, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, subs, 1)

	subs, changed, err = c.Subscriptions(ctx, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, subs)

	// Unconditional requests ignore the stored validator.
	subs, changed, err = c.Subscriptions(ctx, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, subs, 1)
}

func TestValidateCredentials(t *testing.T) {
	fake := newFakeReader()
	srv := fake.start(t)
	validate := ValidateCredentials(Config{Endpoint: srv.URL})
	ctx := context.Background()

	creds, err := validate(ctx, transport.NewHTTP(), &transport.Credentials{
		Kind: transport.ReaderBasic, Username: fakeUser, Secret: fakePassword,
	})
	require.NoError(t, err)
	assert.Equal(t, transport.ReaderAPIKey, creds.Kind)
	assert.Equal(t, fakeAPIKey, creds.Secret)

	_, err = validate(ctx, transport.NewHTTP(), &transport.Credentials{
		Kind: transport.ReaderBasic, Username: fakeUser, Secret: "wrong",
	})
	assert.True(t, syncerr.IsKind(err, syncerr.CredentialsIncomplete))

	_, err = validate(ctx, transport.NewHTTP(), &transport.Credentials{Kind: transport.ReaderBasic})
	assert.ErrorIs(t, err, syncerr.ErrCredentialsIncomplete)
}

func TestCaller_CreateSubscriptionAlreadySubscribed(t *testing.T) {
	fake := newFakeReader()
	fake.addSub("feed/https://dup.example.com/rss", "https://dup.example.com/rss", "dup", "")
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, apiKeyCredentials())

	_, err := c.CreateSubscription(context.Background(), "https://dup.example.com/rss", "", "")
	assert.ErrorIs(t, err, syncerr.ErrAlreadySubscribed)
}

func TestCaller_CreateSubscriptionWithFolder(t *testing.T) {
	fake := newFakeReader()
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, apiKeyCredentials())

	sub, err := c.CreateSubscription(context.Background(), "https://new.example.com/rss", "Renamed", "News")
	require.NoError(t, err)
	assert.Equal(t, "feed/https://new.example.com/rss", sub.ID)
	assert.Equal(t, "Renamed", sub.Title)
	cat, ok := sub.Folder()
	require.True(t, ok)
	assert.Equal(t, "News", cat.Label)
}
