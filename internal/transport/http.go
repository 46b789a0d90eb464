package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

const (
	DefaultUserAgent = "fwrdsync/1.0 (feed sync; github.com/pders01/fwrdsync)"
	DefaultTimeout   = 30 * time.Second

	// maxBodySize bounds the response body read into memory.
	maxBodySize = 32 << 20
)

// HTTP is the net/http Transport.
type HTTP struct {
	client    *http.Client
	userAgent string
	// header is added to every request, e.g. AppId/AppKey for hosted
	// reader services.
	header http.Header

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
}

type Option func(*HTTP)

func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

func WithHeader(key, value string) Option {
	return func(h *HTTP) {
		if value != "" {
			h.header.Set(key, value)
		}
	}
}

func WithClient(c *http.Client) Option {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		header:    make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.base, h.cancel = context.WithCancel(context.Background())
	return h
}

// CancelAll aborts requests in flight and starts a fresh base context.
func (h *HTTP) CancelAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel()
	h.base, h.cancel = context.WithCancel(context.Background())
}

func (h *HTTP) baseContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.base
}

func (h *HTTP) Send(ctx context.Context, r *Request) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.baseContext(), cancel)
	defer stop()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.InvalidParameter, "creating request", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if c := r.Credentials; c != nil {
		switch c.Kind {
		case Basic:
			req.SetBasicAuth(c.Username, c.Secret)
		case ReaderAPIKey:
			req.Header.Set("Authorization", "GoogleLogin auth="+c.Secret)
		}
	}

	if cond := r.Conditional; !cond.IsEmpty() {
		if cond.ETag != "" {
			req.Header.Set("If-None-Match", cond.ETag)
		}
		if cond.LastModified != "" {
			req.Header.Set("If-Modified-Since", cond.LastModified)
		}
	}

	debuglog.Debugf("transport: %s %s", method, r.URL)
	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, syncerr.Wrap(syncerr.TransportFailure, "request cancelled", err)
		}
		return nil, syncerr.Wrap(syncerr.TransportFailure, "sending request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.TransportFailure, "reading response", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if err := statusError(method, r.URL, resp.StatusCode); err != nil {
		return out, err
	}
	return out, nil
}

func statusError(method, url string, code int) error {
	if code < 400 {
		return nil
	}
	op := fmt.Sprintf("%s %s", method, url)
	msg := fmt.Sprintf("HTTP %d", code)
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return syncerr.New(syncerr.CredentialsIncomplete, op, msg)
	case http.StatusNotFound:
		return syncerr.New(syncerr.RemoteNotFound, op, msg)
	case http.StatusConflict:
		return syncerr.New(syncerr.RemoteConflict, op, msg)
	default:
		return syncerr.New(syncerr.TransportFailure, op, msg)
	}
}
