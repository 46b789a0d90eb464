package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/backend/cloud"
	"github.com/pders01/fwrdsync/internal/backend/feedwrangler"
	"github.com/pders01/fwrdsync/internal/backend/local"
	"github.com/pders01/fwrdsync/internal/backend/readerapi"
	"github.com/pders01/fwrdsync/internal/config"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/search"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/transport"
	"github.com/pders01/fwrdsync/internal/validation"
)

// session is one opened account with its store, backend and search.
type session struct {
	cfg      *config.Config
	store    *storage.Store
	account  *account.Account
	backend  account.Backend
	searcher search.Searcher
	index    *search.Index
	// validator checks feed addresses before anything fetches them.
	validator *validation.FeedURLValidator
	closers   []func() error
}

// accountID names the mirror so records from different services never mix.
func accountID(c *config.Config) string {
	switch c.Backend.Kind {
	case config.BackendReaderAPI:
		host := c.Backend.Endpoint
		if u, err := url.Parse(c.Backend.Endpoint); err == nil && u.Host != "" {
			host = u.Host
		}
		return fmt.Sprintf("readerapi:%s@%s", c.Backend.Username, host)
	case config.BackendFeedWrangler:
		return "feedwrangler:" + c.Backend.Username
	default:
		return c.Backend.Kind
	}
}

func newTransport(c *config.Config) *transport.HTTP {
	return transport.NewHTTP(
		transport.WithTimeout(c.Sync.HTTPTimeout),
		transport.WithUserAgent(c.Sync.UserAgent),
	)
}

func readerConfig(c *config.Config) readerapi.Config {
	return readerapi.Config{
		Endpoint: strings.TrimRight(c.Backend.Endpoint, "/"),
		Variant:  readerapi.Variant(c.Backend.Variant),
		AppID:    c.Backend.AppID,
		AppKey:   c.Backend.AppKey,
	}
}

func readerCredentials(c *config.Config) *transport.Credentials {
	return &transport.Credentials{
		Kind:     transport.ReaderBasic,
		Username: c.Backend.Username,
		Secret:   c.Backend.Password,
	}
}

func wranglerConfig(c *config.Config) feedwrangler.Config {
	return feedwrangler.Config{Endpoint: c.Backend.Endpoint, ClientKey: c.Backend.AppKey}
}

// wranglerCredentials carries the email and password; the backend trades
// them for a session token on first use.
func wranglerCredentials(c *config.Config) *transport.Credentials {
	return &transport.Credentials{
		Kind:     transport.Basic,
		Username: c.Backend.Username,
		Secret:   c.Backend.Password,
	}
}

// openSession opens the store, builds the configured backend and
// initializes the account.
func openSession(ctx context.Context, c *config.Config) (s *session, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	dbPath, err := validation.EnsureParentDir(c.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}

	s = &session{cfg: c}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.store, err = storage.NewStore(dbPath, c.Database.Timeout)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store.Close)

	validator := validation.NewFeedURLValidator()
	if c.Sync.AllowPrivateHosts {
		validator = validation.NewPermissiveFeedURLValidator()
	}
	s.validator = validator

	mirror := account.NewMirror(accountID(c), s.store)
	t := newTransport(c)

	switch c.Backend.Kind {
	case config.BackendReaderAPI:
		b := readerapi.New(mirror, t, readerConfig(c), readerapi.Options{
			FlushThreshold: c.Sync.FlushThreshold,
			ChunkSize:      c.Sync.ChunkSize,
			URLValidator:   validator,
		})
		b.SetCredentials(readerCredentials(c))
		s.backend = b
	case config.BackendFeedWrangler:
		b := feedwrangler.New(mirror, t, wranglerConfig(c), feedwrangler.Options{
			FlushThreshold: c.Sync.FlushThreshold,
			ChunkSize:      c.Sync.ChunkSize,
			URLValidator:   validator,
		})
		b.SetCredentials(wranglerCredentials(c))
		s.backend = b
	case config.BackendCloud:
		cloudPath, pathErr := validation.EnsureParentDir(c.Backend.Endpoint)
		if pathErr != nil {
			return nil, fmt.Errorf("cloud database path: %w", pathErr)
		}
		db, openErr := cloud.OpenBoltDatabase(cloudPath, c.Database.Timeout)
		if openErr != nil {
			return nil, openErr
		}
		s.closers = append(s.closers, db.Close)
		s.backend = cloud.New(mirror, db, t, cloud.Options{
			FlushThreshold: c.Sync.FlushThreshold,
			ChunkSize:      c.Sync.ChunkSize,
			Concurrency:    c.Sync.MaxConcurrentRefresh,
			URLValidator:   validator,
		})
	default:
		s.backend = local.New(mirror, t, local.Options{
			Concurrency:  c.Sync.MaxConcurrentRefresh,
			URLValidator: validator,
		})
	}

	log := debuglog.WithFields(map[string]any{"account": mirror.AccountID(), "kind": c.Backend.Kind})
	s.account = account.New(mirror, s.backend, account.WithPassFinished(func(err error) {
		if err == nil {
			log.Infof("refresh pass finished")
		}
	}))

	if c.Database.SearchIndex != "" {
		indexPath, pathErr := validation.ValidatePath(c.Database.SearchIndex)
		if pathErr != nil {
			return nil, fmt.Errorf("search index path: %w", pathErr)
		}
		s.index, err = search.OpenIndex(s.store, indexPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.index.Close)
		mirror.AddListener(s.index)
		s.searcher = s.index
	} else {
		s.searcher = search.NewEngine(s.store)
	}

	if err := s.account.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s account: %w", c.Backend.Kind, err)
	}
	return s, nil
}

func (s *session) Mirror() *account.Mirror { return s.account.Mirror() }

// setForceRefresh reaches backends that download feeds themselves.
func (s *session) setForceRefresh(force bool) bool {
	fr, ok := s.backend.(interface{ SetForceRefresh(bool) })
	if ok {
		fr.SetForceRefresh(force)
	}
	return ok
}

// Close releases everything in reverse order of opening.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// docCount is -1 when no index is configured.
func (s *session) docCount() int {
	if s.index == nil {
		return -1
	}
	n, err := s.index.DocCount()
	if err != nil {
		return -1
	}
	return n
}
