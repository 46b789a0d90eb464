// Package transport sends requests to remote sync services. Backends depend
// on the Transport interface so tests can substitute a fake.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

// CredentialsKind selects how credentials are presented to the service.
type CredentialsKind int

const (
	// Basic sends HTTP basic auth with Username and Secret.
	Basic CredentialsKind = iota
	// ReaderBasic is a username/password pair exchanged for a ReaderAPIKey
	// at login. It is never sent on regular requests.
	ReaderBasic
	// ReaderAPIKey sends "GoogleLogin auth=<Secret>".
	ReaderAPIKey
	// AccessToken is a session token the caller passes in the query
	// string. No header is added.
	AccessToken
)

type Credentials struct {
	Kind     CredentialsKind
	Username string
	Secret   string
}

// Request is one call to a remote service. Body is sent as is; set the
// Content-Type header accordingly.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Credentials *Credentials
	// Conditional, when non-nil, adds If-None-Match / If-Modified-Since.
	Conditional *storage.ConditionalGetInfo
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NotModified reports a 304 answer to a conditional request.
func (r *Response) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// ConditionalGet returns the validators carried by the response, or nil.
func (r *Response) ConditionalGet() *storage.ConditionalGetInfo {
	info := &storage.ConditionalGetInfo{
		ETag:         r.Header.Get("ETag"),
		LastModified: r.Header.Get("Last-Modified"),
	}
	if info.IsEmpty() {
		return nil
	}
	return info
}

// Transport performs requests. CancelAll aborts every request in flight;
// later calls to Send are unaffected.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	CancelAll()
}

// SendJSON sends req and decodes a JSON body into T. On 304 the value is nil.
func SendJSON[T any](ctx context.Context, t Transport, req *Request) (*Response, *T, error) {
	resp, err := t.Send(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.NotModified() {
		return resp, nil, nil
	}
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return resp, nil, syncerr.Wrap(syncerr.TransportFailure, "decoding response",
			fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
	}
	return resp, &v, nil
}
