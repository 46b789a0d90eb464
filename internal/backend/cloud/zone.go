package cloud

import (
	"context"
	"errors"
	"sync"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

type ZoneState int

const (
	Unsynced ZoneState = iota
	Syncing
	Synced
)

func (s ZoneState) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return "unsynced"
	}
}

// ZoneDelegate applies remote changes to the local mirror.
type ZoneDelegate interface {
	ApplyChanges(ctx context.Context, updated []*Record, deleted []string) error
	// ZoneWasDeleted repairs local state after the zone was deleted remotely.
	ZoneWasDeleted() error
}

// Zone reads and writes one partition of the database and tracks how far
// its changes have been applied locally.
type Zone struct {
	name     string
	db       Database
	store    *storage.Store
	delegate ZoneDelegate

	mu    sync.Mutex
	state ZoneState
}

func NewZone(name string, db Database, store *storage.Store) *Zone {
	return &Zone{name: name, db: db, store: store}
}

func (z *Zone) Name() string { return z.name }

func (z *Zone) SetDelegate(d ZoneDelegate) { z.delegate = d }

func (z *Zone) State() ZoneState {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state
}

func (z *Zone) setState(s ZoneState) {
	z.mu.Lock()
	z.state = s
	z.mu.Unlock()
}

func (z *Zone) ResetChangeToken() error {
	return z.store.ResetChangeToken(z.name)
}

// FetchChangesInZone applies every change since the stored token, page by
// page, persisting the token after each applied page. A deleted zone is
// cleared locally and reported as syncerr.ZoneInvalidated. An expired token
// falls back to one full fetch.
func (z *Zone) FetchChangesInZone(ctx context.Context) error {
	log := debuglog.WithFields(map[string]any{"zone": z.name})
	prev := z.State()
	z.setState(Syncing)

	token, err := z.store.ChangeToken(z.name)
	if err != nil {
		z.setState(prev)
		return err
	}

	recreated, refetched := false, false
	for {
		cs, err := z.db.FetchChanges(ctx, z.name, token)
		switch {
		case errors.Is(err, ErrUserDeletedZone):
			return z.invalidate(err)
		case errors.Is(err, ErrZoneNotFound) && !recreated:
			recreated = true
			log.Infof("zone missing, creating it")
			if err := z.db.CreateZone(ctx, z.name); err != nil {
				z.setState(prev)
				return wrapRemote("creating zone", err)
			}
			token = nil
			continue
		case errors.Is(err, ErrChangeTokenExpired) && !refetched:
			refetched = true
			log.Infof("change token expired, fetching everything")
			if err := z.ResetChangeToken(); err != nil {
				z.setState(prev)
				return err
			}
			token = nil
			continue
		case err != nil:
			z.setState(prev)
			return wrapRemote("fetching changes", err)
		}

		if z.delegate != nil {
			if err := z.delegate.ApplyChanges(ctx, cs.Updated, cs.Deleted); err != nil {
				z.setState(prev)
				return err
			}
		}
		if err := z.store.SetChangeToken(z.name, cs.Token); err != nil {
			z.setState(prev)
			return err
		}
		log.Debugf("applied %d updated, %d deleted", len(cs.Updated), len(cs.Deleted))
		token = cs.Token
		if !cs.MoreComing {
			break
		}
	}

	z.setState(Synced)
	return nil
}

func (z *Zone) invalidate(cause error) error {
	debuglog.Warnf("cloud: zone %s was deleted, discarding local records", z.name)
	var errs []error
	if z.delegate != nil {
		errs = append(errs, z.delegate.ZoneWasDeleted())
	}
	errs = append(errs, z.ResetChangeToken())
	z.setState(Unsynced)
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return syncerr.Wrap(syncerr.ZoneInvalidated, "zone "+z.name, cause)
}

func (z *Zone) Fetch(ctx context.Context, id string) (*Record, error) {
	r, err := z.db.Fetch(ctx, z.name, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, syncerr.Wrap(syncerr.RemoteNotFound, "fetching "+id, err)
	}
	return r, z.checkErr("fetching "+id, err)
}

// Query returns no records for a zone that was never created.
func (z *Zone) Query(ctx context.Context, f Filter) ([]*Record, error) {
	records, err := z.db.Query(ctx, z.name, f)
	if errors.Is(err, ErrZoneNotFound) {
		return nil, nil
	}
	return records, z.checkErr("querying "+f.Type, err)
}

// Save writes records, creating the zone first if it does not exist yet.
func (z *Zone) Save(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	return z.withZone(ctx, "saving records", func() error {
		return z.db.Save(ctx, z.name, records, false)
	})
}

func (z *Zone) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return z.withZone(ctx, "deleting records", func() error {
		return z.db.Delete(ctx, z.name, ids)
	})
}

// SaveNew creates r unless a record with the same value in naturalKey
// exists, in which case the server record wins: merge is applied to it
// and it is saved instead. The saved record is returned.
func (z *Zone) SaveNew(ctx context.Context, r *Record, naturalKey string, merge func(server *Record)) (*Record, error) {
	existing, err := z.Query(ctx, Filter{Type: r.Type, Field: naturalKey, Value: r.Get(naturalKey)})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return z.update(ctx, existing[0], merge)
	}

	err = z.withZone(ctx, "creating "+r.Type, func() error {
		return z.db.Save(ctx, z.name, []*Record{r}, true)
	})
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		debuglog.Infof("cloud: %s %s exists on server, updating it", r.Type, conflict.Server.ID)
		return z.update(ctx, conflict.Server, merge)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (z *Zone) update(ctx context.Context, server *Record, merge func(*Record)) (*Record, error) {
	if merge != nil {
		merge(server)
	}
	if err := z.Save(ctx, []*Record{server}); err != nil {
		return nil, err
	}
	return server, nil
}

// Modify fetches id, applies fn and saves the result.
func (z *Zone) Modify(ctx context.Context, id string, fn func(*Record)) (*Record, error) {
	r, err := z.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(r)
	if err := z.Save(ctx, []*Record{r}); err != nil {
		return nil, err
	}
	return r, nil
}

func (z *Zone) withZone(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if errors.Is(err, ErrZoneNotFound) {
		if cerr := z.db.CreateZone(ctx, z.name); cerr != nil {
			return wrapRemote(op, cerr)
		}
		err = fn()
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	return z.checkErr(op, err)
}

func (z *Zone) checkErr(op string, err error) error {
	if errors.Is(err, ErrUserDeletedZone) {
		return z.invalidate(err)
	}
	return wrapRemote(op, err)
}

func wrapRemote(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syncerr.Wrap(syncerr.TransportFailure, op, err)
	case errors.Is(err, ErrRecordNotFound):
		return syncerr.Wrap(syncerr.RemoteNotFound, op, err)
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return syncerr.Wrap(syncerr.RemoteConflict, op, err)
	}
	return syncerr.Wrap(syncerr.TransportFailure, op, err)
}
