// Package cloud syncs an account through a zone-partitioned record store
// whose changes are read incrementally with opaque change tokens.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrZoneNotFound means the zone was never created.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrUserDeletedZone means the zone and all of its records were removed
	// by the user. Local state derived from it is stale.
	ErrUserDeletedZone = errors.New("user deleted zone")
	// ErrChangeTokenExpired means the token no longer identifies a point in
	// the zone's history and a full fetch is required.
	ErrChangeTokenExpired = errors.New("change token expired")
	ErrRecordNotFound     = errors.New("record not found")
)

// ConflictError is returned by Save when a record being created collides
// with one already on the server.
type ConflictError struct {
	Server *Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %s already exists", e.Server.ID)
}

// Record is one remote object. Refs holds the ids of referenced records.
type Record struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Fields   map[string]string `json:"fields"`
	Refs     []string          `json:"refs,omitempty"`
	Modified time.Time         `json:"modified"`
}

func NewRecord(recordType, id string) *Record {
	return &Record{ID: id, Type: recordType, Fields: make(map[string]string)}
}

func (r *Record) Get(field string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[field]
}

func (r *Record) Set(field, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[field] = value
}

func (r *Record) HasRef(id string) bool {
	return slices.Contains(r.Refs, id)
}

func (r *Record) Clone() *Record {
	c := *r
	c.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	c.Refs = slices.Clone(r.Refs)
	return &c
}

// Filter selects records of Type. A non-empty Field must equal Value, and a
// non-empty Ref must be referenced.
type Filter struct {
	Type  string
	Field string
	Value string
	Ref   string
}

func (f Filter) Match(r *Record) bool {
	if r.Type != f.Type {
		return false
	}
	if f.Field != "" && r.Get(f.Field) != f.Value {
		return false
	}
	return f.Ref == "" || r.HasRef(f.Ref)
}

// ChangeSet is one page of zone changes. Token marks the end of the page;
// MoreComing asks the caller to fetch again with it.
type ChangeSet struct {
	Updated    []*Record
	Deleted    []string
	Token      []byte
	MoreComing bool
}

// Database is the remote record store.
type Database interface {
	CreateZone(ctx context.Context, zone string) error
	// FetchChanges returns changes after token; a nil token fetches every
	// record in the zone.
	FetchChanges(ctx context.Context, zone string, token []byte) (*ChangeSet, error)
	Fetch(ctx context.Context, zone, id string) (*Record, error)
	Query(ctx context.Context, zone string, filter Filter) ([]*Record, error)
	// Save upserts records, overwriting only the fields they carry and Refs
	// when non-nil. With create set, a record that already exists fails the
	// whole call with *ConflictError.
	Save(ctx context.Context, zone string, records []*Record, create bool) error
	Delete(ctx context.Context, zone string, ids []string) error
}
