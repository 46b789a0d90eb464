package feedwrangler

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
)

// DefaultEndpoint is the hosted v2 API.
const DefaultEndpoint = "https://feedwrangler.net/api/v2"

const (
	pathAuthorize      = "/users/authorize"
	pathLogout         = "/users/logout"
	pathSubscriptions  = "/subscriptions/list"
	pathAddFeed        = "/subscriptions/add_feed_and_wait"
	pathRemoveFeed     = "/subscriptions/remove_feed"
	pathRenameFeed     = "/subscriptions/rename_feed"
	pathFeedItems      = "/feed_items/list"
	pathFeedItemsByID  = "/feed_items/get"
	pathUpdateFeedItem = "/feed_items/update"

	// PageSize is the largest page feed_items/list serves.
	PageSize = 100
	// maxPages stops a paging loop against a service that never runs dry.
	maxPages = 1000
)

type Config struct {
	Endpoint string
	// ClientKey identifies the registered client at authorization.
	ClientKey string
}

// Caller speaks the Feed Wrangler API. Every call carries the session
// token as access_token; the token is fetched once from the email and
// password.
type Caller struct {
	transport transport.Transport
	cfg       Config

	mu    sync.Mutex
	creds *transport.Credentials
}

func NewCaller(t transport.Transport, cfg Config) *Caller {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &Caller{transport: t, cfg: cfg}
}

func (c *Caller) Credentials() *transport.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *Caller) SetCredentials(creds *transport.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

func (c *Caller) CancelAll() {
	c.transport.CancelAll()
}

func (c *Caller) url(path string, query url.Values) string {
	u := c.cfg.Endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Login exchanges an email and password for an access token. It does not
// change the caller's credentials.
func (c *Caller) Login(ctx context.Context, creds *transport.Credentials) (*transport.Credentials, error) {
	if creds == nil || creds.Username == "" || creds.Secret == "" {
		return nil, syncerr.ErrCredentialsIncomplete
	}
	query := url.Values{"email": {creds.Username}, "password": {creds.Secret}}
	if c.cfg.ClientKey != "" {
		query.Set("client_key", c.cfg.ClientKey)
	}
	_, v, err := transport.SendJSON[authorizeResult](ctx, c.transport, &transport.Request{
		URL: c.url(pathAuthorize, query),
	})
	if err != nil {
		return nil, err
	}
	if v == nil || v.failed() || v.AccessToken == "" {
		msg := "no access token in response"
		if v != nil && v.Error != "" {
			msg = v.Error
		}
		return nil, syncerr.New(syncerr.CredentialsIncomplete, "logging in", msg)
	}
	return &transport.Credentials{Kind: transport.AccessToken, Username: creds.Username, Secret: v.AccessToken}, nil
}

// accessToken returns the session token, logging in first when only an
// email and password are known.
func (c *Caller) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds == nil {
		return "", syncerr.ErrCredentialsIncomplete
	}
	if creds.Kind == transport.AccessToken {
		return creds.Secret, nil
	}
	token, err := c.Login(ctx, creds)
	if err != nil {
		return "", err
	}
	c.SetCredentials(token)
	return token.Secret, nil
}

// call sends an authorized GET and decodes the body into T. A response
// whose result is not success becomes an error of kind failKind.
func call[T any](ctx context.Context, c *Caller, op, path string, query url.Values, failKind syncerr.Kind) (*T, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", token)
	resp, v, err := transport.SendJSON[T](ctx, c.transport, &transport.Request{URL: c.url(path, query)})
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, syncerr.Wrap(syncerr.TransportFailure, op, err)
	}
	if env.failed() {
		msg := env.Error
		if msg == "" {
			msg = "result " + strconv.Quote(env.Result)
		}
		return nil, syncerr.New(failKind, op, msg)
	}
	return v, nil
}

// Logout ends the session and drops the token.
func (c *Caller) Logout(ctx context.Context) error {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds == nil || creds.Kind != transport.AccessToken {
		return nil
	}
	_, err := call[envelope](ctx, c, "logging out", pathLogout, nil, syncerr.TransportFailure)
	c.SetCredentials(nil)
	return err
}

func (c *Caller) Subscriptions(ctx context.Context) ([]Subscription, error) {
	v, err := call[subscriptionList](ctx, c, "listing subscriptions", pathSubscriptions, nil, syncerr.TransportFailure)
	if err != nil {
		return nil, err
	}
	return v.Feeds, nil
}

// AddSubscription subscribes to feedURL and waits for the service to
// fetch it. A feed the service cannot find fails with
// syncerr.ErrCreateNotFound.
func (c *Caller) AddSubscription(ctx context.Context, feedURL string) (*Subscription, error) {
	v, err := call[addFeedResult](ctx, c, "adding subscription", pathAddFeed, url.Values{
		"feed_url":     {feedURL},
		"choose_first": {"true"},
	}, syncerr.RemoteNotFound)
	if err != nil {
		if syncerr.IsKind(err, syncerr.RemoteNotFound) {
			debuglog.Debugf("feedwrangler: adding %s: %v", feedURL, err)
			return nil, syncerr.ErrCreateNotFound
		}
		return nil, err
	}
	if v.Feed == nil || v.Feed.FeedID == 0 {
		return nil, syncerr.ErrCreateNotFound
	}
	return v.Feed, nil
}

func (c *Caller) RemoveSubscription(ctx context.Context, feedID string) error {
	_, err := call[envelope](ctx, c, "removing subscription", pathRemoveFeed,
		url.Values{"feed_id": {feedID}}, syncerr.RemoteNotFound)
	return err
}

func (c *Caller) RenameSubscription(ctx context.Context, feedID, name string) error {
	_, err := call[envelope](ctx, c, "renaming subscription", pathRenameFeed,
		url.Values{"feed_id": {feedID}, "feed_name": {name}}, syncerr.RemoteNotFound)
	return err
}

// ItemQuery filters feed_items/list. Nil flags are not sent.
type ItemQuery struct {
	Read    *bool
	Starred *bool
	FeedID  string
	Since   time.Time
}

func (q ItemQuery) values() url.Values {
	v := url.Values{}
	if q.Read != nil {
		v.Set("read", strconv.FormatBool(*q.Read))
	}
	if q.Starred != nil {
		v.Set("starred", strconv.FormatBool(*q.Starred))
	}
	if q.FeedID != "" {
		v.Set("feed_id", q.FeedID)
	}
	if !q.Since.IsZero() {
		v.Set("created_since", strconv.FormatInt(q.Since.Unix(), 10))
	}
	return v
}

// FeedItemsPage returns one page of items matching q.
func (c *Caller) FeedItemsPage(ctx context.Context, q ItemQuery, page int) ([]FeedItem, error) {
	query := q.values()
	query.Set("limit", strconv.Itoa(PageSize))
	query.Set("offset", strconv.Itoa(page*PageSize))
	v, err := call[feedItemList](ctx, c, "listing feed items", pathFeedItems, query, syncerr.TransportFailure)
	if err != nil {
		return nil, err
	}
	return v.FeedItems, nil
}

// EachFeedItemsPage calls fn for every page of items matching q until a
// short page arrives.
func (c *Caller) EachFeedItemsPage(ctx context.Context, q ItemQuery, fn func([]FeedItem) error) error {
	for page := 0; page < maxPages; page++ {
		items, err := c.FeedItemsPage(ctx, q, page)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			if err := fn(items); err != nil {
				return err
			}
		}
		if len(items) < PageSize {
			return nil
		}
	}
	debuglog.Warnf("feedwrangler: stopped paging after %d pages", maxPages)
	return nil
}

// ItemIDs returns the ids of every item matching q.
func (c *Caller) ItemIDs(ctx context.Context, q ItemQuery) ([]string, error) {
	var ids []string
	err := c.EachFeedItemsPage(ctx, q, func(items []FeedItem) error {
		for i := range items {
			ids = append(ids, items[i].ArticleID())
		}
		return nil
	})
	return ids, err
}

// FeedItems downloads the given items.
func (c *Caller) FeedItems(ctx context.Context, ids []string) ([]FeedItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	v, err := call[feedItemList](ctx, c, "fetching feed items", pathFeedItemsByID,
		url.Values{"feed_item_ids": {strings.Join(ids, ",")}}, syncerr.TransportFailure)
	if err != nil {
		return nil, err
	}
	return v.FeedItems, nil
}

// UpdateItem sets one flag of one item.
func (c *Caller) UpdateItem(ctx context.Context, id, flag string, on bool) error {
	_, err := call[feedItemResult](ctx, c, "updating feed item", pathUpdateFeedItem,
		url.Values{"feed_item_id": {id}, flag: {strconv.FormatBool(on)}}, syncerr.RemoteNotFound)
	return err
}
