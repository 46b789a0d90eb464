package cloud

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPageSize = 200

type change struct {
	seq uint64
	id  string
}

type memoryZone struct {
	// epoch changes when the zone's history is discarded; tokens from an
	// older epoch are expired.
	epoch   string
	seq     uint64
	records map[string]*Record
	log     []change
	deleted bool
}

// MemoryDatabase is an in-process Database keeping a change log per zone.
type MemoryDatabase struct {
	mu       sync.Mutex
	zones    map[string]*memoryZone
	pageSize int

	// FailSave, when set, is consulted before every Save and Delete.
	FailSave func(zone string, ids []string) error
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{zones: make(map[string]*memoryZone), pageSize: defaultPageSize}
}

// SetPageSize bounds the number of changes returned per FetchChanges.
func (m *MemoryDatabase) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

func (m *MemoryDatabase) CreateZone(_ context.Context, zone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[zone]
	if ok && !z.deleted {
		return nil
	}
	m.zones[zone] = &memoryZone{epoch: uuid.NewString(), records: make(map[string]*Record)}
	return nil
}

// DeleteZone removes the zone as a user would from their cloud settings.
// Fetches with a token then fail with ErrUserDeletedZone until the zone is
// created again.
func (m *MemoryDatabase) DeleteZone(zone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zones[zone]; ok {
		z.deleted = true
		z.records = make(map[string]*Record)
		z.log = nil
	}
}

// ExpireTokens discards the zone's history without touching its records.
func (m *MemoryDatabase) ExpireTokens(zone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zones[zone]; ok {
		z.epoch = uuid.NewString()
		z.log = nil
	}
}

// zone returns ErrZoneNotFound for a deleted zone, so a write recreates it.
func (m *MemoryDatabase) zone(name string) (*memoryZone, error) {
	z, ok := m.zones[name]
	if !ok || z.deleted {
		return nil, ErrZoneNotFound
	}
	return z, nil
}

func encodeToken(epoch string, seq uint64) []byte {
	return []byte(epoch + ":" + strconv.FormatUint(seq, 10))
}

func decodeToken(token []byte) (string, uint64, error) {
	epoch, seq, ok := strings.Cut(string(token), ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed change token")
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed change token: %w", err)
	}
	return epoch, n, nil
}

func (m *MemoryDatabase) FetchChanges(ctx context.Context, zone string, token []byte) (*ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Clients still holding a token learn that the user deleted the zone.
	if z, ok := m.zones[zone]; ok && z.deleted && token != nil {
		return nil, ErrUserDeletedZone
	}
	z, err := m.zone(zone)
	if err != nil {
		return nil, err
	}

	if token == nil {
		cs := &ChangeSet{Token: encodeToken(z.epoch, z.seq)}
		for _, id := range sortedIDs(z.records) {
			cs.Updated = append(cs.Updated, z.records[id].Clone())
		}
		return cs, nil
	}

	epoch, after, err := decodeToken(token)
	if err != nil || epoch != z.epoch {
		return nil, ErrChangeTokenExpired
	}

	cs := &ChangeSet{}
	seen := make(map[string]bool)
	last := after
	for _, c := range z.log {
		if c.seq <= after {
			continue
		}
		if len(seen) == m.pageSize {
			cs.MoreComing = true
			break
		}
		last = c.seq
		if seen[c.id] {
			continue
		}
		seen[c.id] = true
		if r, ok := z.records[c.id]; ok {
			cs.Updated = append(cs.Updated, r.Clone())
		} else {
			cs.Deleted = append(cs.Deleted, c.id)
		}
	}
	cs.Token = encodeToken(z.epoch, last)
	return cs, nil
}

func sortedIDs(records map[string]*Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryDatabase) Fetch(ctx context.Context, zone, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(zone)
	if err != nil {
		return nil, err
	}
	r, ok := z.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryDatabase) Query(ctx context.Context, zone string, filter Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(zone)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, id := range sortedIDs(z.records) {
		if r := z.records[id]; filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryDatabase) Save(ctx context.Context, zone string, records []*Record, create bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(zone)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
		if existing, ok := z.records[r.ID]; ok && create {
			return &ConflictError{Server: existing.Clone()}
		}
	}
	if m.FailSave != nil {
		if err := m.FailSave(zone, ids); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, r := range records {
		z.records[r.ID] = merge(z.records[r.ID], r, now)
		z.seq++
		z.log = append(z.log, change{seq: z.seq, id: r.ID})
	}
	return nil
}

func (m *MemoryDatabase) Delete(ctx context.Context, zone string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.zone(zone)
	if err != nil {
		return err
	}
	if m.FailSave != nil {
		if err := m.FailSave(zone, ids); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if _, ok := z.records[id]; !ok {
			continue
		}
		delete(z.records, id)
		z.seq++
		z.log = append(z.log, change{seq: z.seq, id: id})
	}
	return nil
}

// merge overlays r on existing the way Save documents it.
func merge(existing, r *Record, now time.Time) *Record {
	stored := r.Clone()
	if existing != nil {
		stored = existing.Clone()
		stored.Type = r.Type
		for k, v := range r.Fields {
			stored.Fields[k] = v
		}
		if r.Refs != nil {
			stored.Refs = slices.Clone(r.Refs)
		}
	}
	stored.Modified = now
	return stored
}

// Records returns a copy of every record in zone, for inspection.
func (m *MemoryDatabase) Records(zone string) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[zone]
	if !ok {
		return nil
	}
	out := make([]*Record, 0, len(z.records))
	for _, id := range sortedIDs(z.records) {
		out = append(out, z.records[id].Clone())
	}
	return out
}
