package readerapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/transport"
)

const (
	pathLogin            = "/accounts/ClientLogin"
	pathToken            = "/reader/api/0/token"
	pathDisableTag       = "/reader/api/0/disable-tag"
	pathRenameTag        = "/reader/api/0/rename-tag"
	pathTagList          = "/reader/api/0/tag/list"
	pathSubscriptionList = "/reader/api/0/subscription/list"
	pathSubscriptionEdit = "/reader/api/0/subscription/edit"
	pathQuickAdd         = "/reader/api/0/subscription/quickadd"
	pathContents         = "/reader/api/0/stream/items/contents"
	pathItemIDs          = "/reader/api/0/stream/items/ids"
	pathEditTag          = "/reader/api/0/edit-tag"

	// Conditional-fetch cache keys.
	keySubscriptions  = "subscriptions"
	keyTags           = "tags"
	keyUnreadEntries  = "unreadEntries"
	keyStarredEntries = "starredEntries"

	maxItemIDs = 10000
)

// Variant selects dialect differences between Reader API services.
type Variant string

const (
	VariantGeneric      Variant = "generic"
	VariantFreshRSS     Variant = "freshrss"
	VariantInoreader    Variant = "inoreader"
	VariantTheOldReader Variant = "theoldreader"
)

// hexItemIDs reports whether the service returns item ids in hex already.
func (v Variant) hexItemIDs() bool { return v == VariantTheOldReader }

// Config locates a Reader API service.
type Config struct {
	Endpoint string
	Variant  Variant
	// AppID and AppKey are sent by hosted services that require a
	// registered client.
	AppID  string
	AppKey string
}

// Caller speaks the Google Reader API. It caches the action token and keeps
// validators in the account's conditional-fetch cache.
type Caller struct {
	transport transport.Transport
	store     *storage.Store
	cfg       Config

	mu    sync.Mutex
	creds *transport.Credentials
	token string
}

func NewCaller(t transport.Transport, store *storage.Store, cfg Config) *Caller {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Variant == "" {
		cfg.Variant = VariantGeneric
	}
	return &Caller{transport: t, store: store, cfg: cfg}
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
	c.token = ""
}

// ForgetToken drops the cached action token.
func (c *Caller) ForgetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
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

func (c *Caller) header() http.Header {
	h := make(http.Header)
	if c.cfg.Variant == VariantInoreader {
		if c.cfg.AppID != "" {
			h.Set("AppId", c.cfg.AppID)
		}
		if c.cfg.AppKey != "" {
			h.Set("AppKey", c.cfg.AppKey)
		}
	}
	return h
}

// Login exchanges a username and password for an API key. It does not
// change the caller's credentials.
func (c *Caller) Login(ctx context.Context, creds *transport.Credentials) (*transport.Credentials, error) {
	if creds == nil || creds.Username == "" || creds.Secret == "" {
		return nil, syncerr.ErrCredentialsIncomplete
	}
	form := url.Values{"Email": {creds.Username}, "Passwd": {creds.Secret}}
	h := c.header()
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.transport.Send(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    c.url(pathLogin, nil),
		Header: h,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}

	auth := ""
	scanner := bufio.NewScanner(bytes.NewReader(resp.Body))
	for scanner.Scan() {
		if key, value, ok := strings.Cut(scanner.Text(), "="); ok && key == "Auth" {
			auth = strings.TrimSpace(value)
		}
	}
	if auth == "" {
		return nil, syncerr.New(syncerr.CredentialsIncomplete, "logging in", "no Auth token in response")
	}
	return &transport.Credentials{Kind: transport.ReaderAPIKey, Username: creds.Username, Secret: auth}, nil
}

// apiCredentials returns API key credentials, logging in first when only a
// username and password are known.
func (c *Caller) apiCredentials(ctx context.Context) (*transport.Credentials, error) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds == nil {
		return nil, syncerr.ErrCredentialsIncomplete
	}
	if creds.Kind != transport.ReaderBasic {
		return creds, nil
	}
	key, err := c.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	c.SetCredentials(key)
	return key, nil
}

func (c *Caller) actionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	creds, err := c.apiCredentials(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.transport.Send(ctx, &transport.Request{
		URL:         c.url(pathToken, nil),
		Header:      c.header(),
		Credentials: creds,
	})
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(string(resp.Body))
	if token == "" {
		return "", syncerr.New(syncerr.TransportFailure, "requesting action token", "empty token")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

// get sends a conditional GET when cacheKey is set. A nil result with nil
// error means the resource was not modified.
func get[T any](ctx context.Context, c *Caller, path string, query url.Values, cacheKey string) (*T, error) {
	creds, err := c.apiCredentials(ctx)
	if err != nil {
		return nil, err
	}
	req := &transport.Request{
		URL:         c.url(path, query),
		Header:      c.header(),
		Credentials: creds,
	}
	if cacheKey != "" {
		if req.Conditional, err = c.store.ConditionalGet(cacheKey); err != nil {
			return nil, err
		}
	}
	resp, v, err := transport.SendJSON[T](ctx, c.transport, req)
	if err != nil {
		return nil, err
	}
	if resp.NotModified() {
		debuglog.Debugf("readerapi: %s not modified", cacheKey)
		return nil, nil
	}
	if cacheKey != "" {
		if info := resp.ConditionalGet(); info != nil {
			if err := c.store.SetConditionalGet(cacheKey, info); err != nil {
				debuglog.Warnf("readerapi: storing validator for %s: %v", cacheKey, err)
			}
		}
	}
	return v, nil
}

// post sends a form with the action token.
func (c *Caller) post(ctx context.Context, path string, query, form url.Values) (*transport.Response, error) {
	token, err := c.actionToken(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := c.apiCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set("T", token)
	h := c.header()
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.transport.Send(ctx, &transport.Request{
		Method:      http.MethodPost,
		URL:         c.url(path, query),
		Header:      h,
		Body:        []byte(form.Encode()),
		Credentials: creds,
	})
}

// Tags returns the tag list, or changed=false on 304.
func (c *Caller) Tags(ctx context.Context) (tags []Tag, changed bool, err error) {
	v, err := get[tagContainer](ctx, c, pathTagList, url.Values{"output": {"json"}}, keyTags)
	if err != nil || v == nil {
		return nil, false, err
	}
	return v.Tags, true, nil
}

func (c *Caller) RenameTag(ctx context.Context, oldName, newName string) error {
	_, err := c.post(ctx, pathRenameTag, nil, url.Values{
		"s":    {LabelID(oldName)},
		"dest": {LabelID(newName)},
	})
	return err
}

func (c *Caller) DeleteTag(ctx context.Context, tagID string) error {
	if tagID == "" {
		return syncerr.New(syncerr.InvalidParameter, "deleting tag", "folder has no external id")
	}
	_, err := c.post(ctx, pathDisableTag, nil, url.Values{"s": {tagID}})
	return err
}

// Subscriptions returns every subscription. With conditional set, a 304
// returns changed=false.
func (c *Caller) Subscriptions(ctx context.Context, conditional bool) (subs []Subscription, changed bool, err error) {
	key := ""
	if conditional {
		key = keySubscriptions
	}
	v, err := get[subscriptionContainer](ctx, c, pathSubscriptionList, url.Values{"output": {"json"}}, key)
	if err != nil || v == nil {
		return nil, false, err
	}
	return v.Subscriptions, true, nil
}

// CreateSubscription subscribes to feedURL and applies the optional name and
// folder. It fails with syncerr.ErrAlreadySubscribed when the service
// reports no new subscription.
func (c *Caller) CreateSubscription(ctx context.Context, feedURL, name, folderName string) (*Subscription, error) {
	resp, err := c.post(ctx, pathQuickAdd, url.Values{"quickadd": {feedURL}}, nil)
	if err != nil {
		return nil, err
	}
	var added quickAddResult
	if err := decodeJSON(resp, &added); err != nil {
		return nil, err
	}
	if added.NumResults == 0 {
		return nil, syncerr.ErrAlreadySubscribed
	}
	if added.StreamID == "" {
		return nil, syncerr.ErrCreateNotFound
	}

	if name != "" || folderName != "" {
		form := url.Values{"ac": {"subscribe"}, "s": {added.StreamID}}
		if folderName != "" {
			form.Set("a", LabelID(folderName))
		}
		if name != "" {
			form.Set("t", name)
		}
		if _, err := c.post(ctx, pathSubscriptionEdit, nil, form); err != nil {
			return nil, syncerr.Wrap(syncerr.RemoteConflict, "editing new subscription", err)
		}
	}

	subs, _, err := c.Subscriptions(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].ID == added.StreamID {
			return &subs[i], nil
		}
	}
	return nil, syncerr.ErrCreateNotFound
}

func (c *Caller) editSubscription(ctx context.Context, form url.Values) error {
	_, err := c.post(ctx, pathSubscriptionEdit, nil, form)
	return err
}

func (c *Caller) RenameSubscription(ctx context.Context, subscriptionID, name string) error {
	return c.editSubscription(ctx, url.Values{"ac": {"edit"}, "s": {subscriptionID}, "t": {name}})
}

func (c *Caller) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	return c.editSubscription(ctx, url.Values{"ac": {"unsubscribe"}, "s": {subscriptionID}})
}

func (c *Caller) CreateTagging(ctx context.Context, subscriptionID, folderName string) error {
	return c.editSubscription(ctx, url.Values{"ac": {"edit"}, "s": {subscriptionID}, "a": {LabelID(folderName)}})
}

func (c *Caller) DeleteTagging(ctx context.Context, subscriptionID, folderName string) error {
	return c.editSubscription(ctx, url.Values{"ac": {"edit"}, "s": {subscriptionID}, "r": {LabelID(folderName)}})
}

func (c *Caller) itemIDs(ctx context.Context, query url.Values, cacheKey string) (ids []string, changed bool, err error) {
	query.Set("output", "json")
	if query.Get("n") == "" {
		query.Set("n", strconv.Itoa(maxItemIDs))
	}
	v, err := get[referenceWrapper](ctx, c, pathItemIDs, query, cacheKey)
	if err != nil || v == nil {
		return nil, false, err
	}
	ids = make([]string, 0, len(v.ItemRefs))
	for _, ref := range v.ItemRefs {
		ids = append(ids, ref.ID)
	}
	return ids, true, nil
}

// UnreadItemIDs returns the ids of every unread item.
func (c *Caller) UnreadItemIDs(ctx context.Context) ([]string, bool, error) {
	return c.itemIDs(ctx, url.Values{"s": {readingList}, "xt": {stateRead}}, keyUnreadEntries)
}

// StarredItemIDs returns the ids of every starred item.
func (c *Caller) StarredItemIDs(ctx context.Context) ([]string, bool, error) {
	return c.itemIDs(ctx, url.Values{"s": {stateStarred}}, keyStarredEntries)
}

// ItemIDsSince returns unread items of stream newer than since.
func (c *Caller) ItemIDsSince(ctx context.Context, stream string, since time.Time) ([]string, error) {
	ids, _, err := c.itemIDs(ctx, url.Values{
		"s":  {stream},
		"xt": {stateRead},
		"ot": {strconv.FormatInt(since.Unix(), 10)},
	}, "")
	return ids, err
}

// Entries downloads the content of the given items.
func (c *Caller) Entries(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	form := url.Values{"output": {"json"}}
	for _, id := range ids {
		long, err := longItemID(id, c.cfg.Variant.hexItemIDs())
		if err != nil {
			return nil, syncerr.Wrap(syncerr.InvalidParameter, "fetching entries", err)
		}
		form.Add("i", long)
	}
	resp, err := c.post(ctx, pathContents, nil, form)
	if err != nil {
		return nil, err
	}
	var wrapper entryWrapper
	if err := decodeJSON(resp, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Entries, nil
}

// UpdateState adds (add=true) or removes a state tag on items.
func (c *Caller) UpdateState(ctx context.Context, ids []string, state string, add bool) error {
	form := url.Values{}
	for _, id := range ids {
		long, err := longItemID(id, c.cfg.Variant.hexItemIDs())
		if err != nil {
			debuglog.Warnf("readerapi: skipping %v", err)
			continue
		}
		form.Add("i", long)
	}
	if len(form["i"]) == 0 {
		return nil
	}
	if add {
		form.Set("a", state)
	} else {
		form.Set("r", state)
	}
	_, err := c.post(ctx, pathEditTag, nil, form)
	return err
}

// ArticleID maps an entry to the item id used for statuses.
func (c *Caller) ArticleID(e *Entry) (string, error) {
	return shortItemID(e.ID, c.cfg.Variant.hexItemIDs())
}

func decodeJSON(resp *transport.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return syncerr.Wrap(syncerr.TransportFailure, "decoding response", err)
	}
	return nil
}
