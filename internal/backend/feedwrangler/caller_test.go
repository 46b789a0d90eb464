package feedwrangler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
)

func newTestCaller(t *testing.T, endpoint string, creds *transport.Credentials) *Caller {
	t.Helper()
	c := NewCaller(transport.NewHTTP(), Config{Endpoint: endpoint + "/"})
	c.SetCredentials(creds)
	return c
}

func TestFeedItemTimes(t *testing.T) {
	it := FeedItem{ID: 42, FeedID: 7, PublishedAt: 1700000000, CreatedAt: 1600000000}
	assert.Equal(t, "42", it.ArticleID())
	assert.Equal(t, "7", it.FeedExternalID())
	assert.Equal(t, time.Unix(1700000000, 0), it.Published())
	assert.True(t, it.Updated().IsZero())

	it.PublishedAt = 0
	assert.Equal(t, time.Unix(1600000000, 0), it.Published(), "created_at stands in for a missing date")
	assert.True(t, (&FeedItem{}).Published().IsZero())
}

func TestItemQueryValues(t *testing.T) {
	no := false
	v := ItemQuery{Read: &no, FeedID: "7", Since: time.Unix(1700000000, 0)}.values()
	assert.Equal(t, "false", v.Get("read"))
	assert.False(t, v.Has("starred"))
	assert.Equal(t, "7", v.Get("feed_id"))
	assert.Equal(t, "1700000000", v.Get("created_since"))
	assert.Empty(t, ItemQuery{}.values())
}

func TestNewCaller_DefaultEndpoint(t *testing.T) {
	c := NewCaller(transport.NewHTTP(), Config{})
	assert.Equal(t, DefaultEndpoint+pathLogout, c.url(pathLogout, nil))
}

func TestCaller_LoginOnceWithPassword(t *testing.T) {
	fake := newFakeWrangler()
	fake.addSub(1, "https://one.example.com/rss", "one")
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, passwordCredentials())
	ctx := context.Background()

	subs, err := c.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "1", subs[0].ExternalID())

	_, err = c.Subscriptions(ctx)
	require.NoError(t, err)

	logins, _, _ := fake.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, transport.AccessToken, c.Credentials().Kind)
	assert.Equal(t, fakeToken, c.Credentials().Secret)
}

func TestCaller_ErrorResult(t *testing.T) {
	fake := newFakeWrangler()
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, &transport.Credentials{Kind: transport.AccessToken, Secret: "stale"})

	_, err := c.Subscriptions(context.Background())
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.TransportFailure))
	assert.Contains(t, err.Error(), "Invalid access token")

	c.SetCredentials(nil)
	_, err = c.Subscriptions(context.Background())
	assert.ErrorIs(t, err, syncerr.ErrCredentialsIncomplete)
}

func TestValidateCredentials(t *testing.T) {
	fake := newFakeWrangler()
	srv := fake.start(t)
	validate := ValidateCredentials(Config{Endpoint: srv.URL})
	ctx := context.Background()

	creds, err := validate(ctx, transport.NewHTTP(), passwordCredentials())
	require.NoError(t, err)
	assert.Equal(t, transport.AccessToken, creds.Kind)
	assert.Equal(t, fakeToken, creds.Secret)

	_, err = validate(ctx, transport.NewHTTP(), &transport.Credentials{Username: fakeEmail, Secret: "wrong"})
	assert.True(t, syncerr.IsKind(err, syncerr.CredentialsIncomplete))

	_, err = validate(ctx, transport.NewHTTP(), &transport.Credentials{})
	assert.ErrorIs(t, err, syncerr.ErrCredentialsIncomplete)
}

func TestCaller_Paging(t *testing.T) {
	fake := newFakeWrangler()
	fake.addSub(1, "https://one.example.com/rss", "one")
	for i := int64(1); i <= PageSize+5; i++ {
		fake.addItem(i, 1, "item", i%2 == 0, false)
	}
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, passwordCredentials())
	ctx := context.Background()

	var pages []int
	require.NoError(t, c.EachFeedItemsPage(ctx, ItemQuery{}, func(items []FeedItem) error {
		pages = append(pages, len(items))
		return nil
	}))
	assert.Equal(t, []int{PageSize, 5}, pages)

	no := false
	unread, err := c.ItemIDs(ctx, ItemQuery{Read: &no})
	require.NoError(t, err)
	assert.Len(t, unread, (PageSize+5+1)/2)
	assert.Equal(t, "1", unread[0])
}

func TestCaller_AddSubscriptionNotFound(t *testing.T) {
	fake := newFakeWrangler()
	fake.unknownFeeds["https://gone.example.com/rss"] = true
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, passwordCredentials())

	_, err := c.AddSubscription(context.Background(), "https://gone.example.com/rss")
	assert.ErrorIs(t, err, syncerr.ErrCreateNotFound)
}

func TestCaller_Logout(t *testing.T) {
	fake := newFakeWrangler()
	srv := fake.start(t)
	c := newTestCaller(t, srv.URL, passwordCredentials())
	ctx := context.Background()

	// Nothing to end before the first login.
	require.NoError(t, c.Logout(ctx))
	_, logouts, _ := fake.counts()
	assert.Zero(t, logouts)

	_, err := c.Subscriptions(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))
	_, logouts, _ = fake.counts()
	assert.Equal(t, 1, logouts)
	assert.Nil(t, c.Credentials())
}
