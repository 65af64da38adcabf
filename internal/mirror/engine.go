// Package mirror keeps the local copy of remote collections and actors in step
// with the remote service, one page at a time. Concurrent callers asking for the
// same work share a single pass, and items are funnelled through the shared
// registry so each remote item is stored and measured once.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/database"
	"github.com/bryan-buckman/chanmirror/internal/inflight"
	"github.com/bryan-buckman/chanmirror/internal/measure"
	"github.com/bryan-buckman/chanmirror/internal/registry"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPageSize            = 50
	DefaultBoostSize           = 5
	DefaultConnectionsPageSize = 50
	DefaultMaxAge              = 12 * time.Hour

	// maxErrorLen bounds error messages recorded on collections and actors.
	maxErrorLen = 200
)

// errStopped reports that a pass ended early because its context was cancelled.
var errStopped = errors.New("sync stopped")

// API is the subset of the remote client the engine needs.
type API interface {
	Collection(ctx context.Context, slug string) (remote.RawCollection, error)
	Contents(ctx context.Context, slug string, page, per int) (remote.ContentsPage, error)
	Connections(ctx context.Context, idOrSlug string, page, per int) (remote.CollectionsPage, error)
	ItemCollections(ctx context.Context, itemID int64, page, per int) (remote.CollectionsPage, error)
	Actor(ctx context.Context, idOrSlug string) (remote.RawUser, error)
	ActorCollections(ctx context.Context, idOrSlug string, page, per int) (remote.CollectionsPage, error)
}

var _ API = (*remote.Client)(nil)

// Config tunes the engine. Zero values select the defaults, except BoostSize
// where zero disables the boost page.
type Config struct {
	PageSize            int
	BoostSize           int
	ConnectionsPageSize int
	// MaxAge is how long fetched data stays fresh before a pass starts over.
	MaxAge time.Duration
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// SyncOptions modify a single sync call.
type SyncOptions struct {
	// Force discards the page bookkeeping and any recorded error first.
	Force bool
}

// Engine is the sync engine. Construct one per application.
type Engine struct {
	api      API
	store    database.Store
	registry *registry.Registry
	batcher  *measure.Batcher
	cfg      Config

	mu          sync.Mutex
	collections map[string]*collection
	actors      map[string]*actor

	watchMu sync.Mutex
	watch   *slugList

	passes      inflight.Group[bool] // reports whether the pass was forced
	pages       inflight.Group[struct{}]
	subflows    inflight.Group[struct{}]
	actorPasses inflight.Group[bool]
	lookups     inflight.Group[remote.CollectionsPage]
	profiles    inflight.Group[remote.RawUser]
}

// New creates an engine.
func New(api API, store database.Store, reg *registry.Registry, batcher *measure.Batcher, cfg Config) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.BoostSize < 0 {
		cfg.BoostSize = 0
	}
	if cfg.ConnectionsPageSize <= 0 {
		cfg.ConnectionsPageSize = DefaultConnectionsPageSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		api:         api,
		store:       store,
		registry:    reg,
		batcher:     batcher,
		cfg:         cfg,
		collections: make(map[string]*collection),
		actors:      make(map[string]*actor),
	}
}

// Store returns the store the engine writes through.
func (e *Engine) Store() database.Store {
	return e.store
}

func (e *Engine) now() time.Time {
	return e.cfg.Now()
}

// fresh reports whether data fetched at is still within MaxAge.
func (e *Engine) fresh(at time.Time) bool {
	return !at.IsZero() && e.now().Sub(at) <= e.cfg.MaxAge
}

// withRun attaches a logger carrying a fresh run id to ctx.
func withRun(ctx context.Context, field, value string) context.Context {
	l := log.With().Str("run", uuid.NewString()).Str(field, value).Logger()
	return l.WithContext(ctx)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// stopped folds the result of a shared pass into what the caller sees. It
// reports retry when the pass was stopped by another caller's context while
// ctx is still live.
// joinedUnforced reports whether a forced call must run again because the pass
// it joined was not forced.
func joinedUnforced(ctx context.Context, opts SyncOptions, forced bool, err error) bool {
	return opts.Force && !forced && err == nil && ctx.Err() == nil
}

func stopped(ctx context.Context, err error) (out error, retry bool) {
	if !errors.Is(err, errStopped) {
		return err, false
	}
	if ctx.Err() == nil {
		return nil, true
	}
	return nil, false
}
