package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/inflight"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/rs/zerolog/log"
)

const (
	fieldProfile        = "profile"
	fieldProfileFetched = "profile_fetched_at"
	fieldCollections    = "collections_list"

	// actorAliases maps actor slugs onto numeric ids.
	actorAliases = "actor-aliases"
)

// actor is the in-memory view of one actor record. mu guards every field
// after hydration.
type actor struct {
	mu     sync.Mutex
	key    string
	rec    record
	loaded bool

	profile          model.Actor
	hasMore          bool
	lastFetchedAt    time.Time
	profileFetchedAt time.Time
	lastError        string

	pages       *pageSet
	collections *slugList
}

// ActorSnapshot is a read-only copy of an actor and its owned collections.
type ActorSnapshot struct {
	Actor         model.Actor        `json:"actor"`
	Slugs         []string           `json:"slugs"`
	Collections   []model.Collection `json:"collections"`
	FetchedPages  []int              `json:"fetched_pages"`
	HasMore       bool               `json:"has_more"`
	LastFetchedAt time.Time          `json:"last_fetched_at"`
	Error         string             `json:"error,omitempty"`
}

// State places the snapshot in the sync state machine.
func (s ActorSnapshot) State() model.SyncState {
	return stateOf(s.Error, len(s.FetchedPages), s.Actor.ID != 0 || len(s.Slugs) > 0, s.HasMore)
}

func (e *Engine) actor(ctx context.Context, key string) (*actor, error) {
	e.mu.Lock()
	a, ok := e.actors[key]
	if !ok {
		a = &actor{key: key, rec: record{store: e.store, container: "actor:" + key}}
		e.actors[key] = a
	}
	e.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a, nil
	}
	a.hasMore = true
	fields := []struct {
		key string
		out any
	}{
		{fieldProfile, &a.profile},
		{fieldHasMore, &a.hasMore},
		{fieldLastFetched, &a.lastFetchedAt},
		{fieldProfileFetched, &a.profileFetchedAt},
		{fieldError, &a.lastError},
	}
	for _, f := range fields {
		if _, err := a.rec.read(ctx, f.key, f.out); err != nil {
			return nil, fmt.Errorf("load actor %s: %w", key, err)
		}
	}
	h, err := a.rec.list(ctx, fieldPages)
	if err != nil {
		return nil, err
	}
	if a.pages, err = openPageSet(ctx, e.store, h); err != nil {
		return nil, err
	}
	if h, err = a.rec.list(ctx, fieldCollections); err != nil {
		return nil, err
	}
	if a.collections, err = openSlugList(ctx, e.store, h); err != nil {
		return nil, err
	}
	a.loaded = true
	return a, nil
}

func (a *actor) saveProgress(ctx context.Context) error {
	return errors.Join(
		a.rec.write(ctx, fieldHasMore, a.hasMore),
		a.rec.write(ctx, fieldLastFetched, a.lastFetchedAt),
		a.rec.write(ctx, fieldError, a.lastError),
	)
}

func (e *Engine) recordActorError(ctx context.Context, a *actor, err error) {
	log.Ctx(ctx).Warn().Err(err).Str("actor", a.key).Msg("sync error recorded")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = truncateError(err)
	if werr := a.rec.write(context.WithoutCancel(ctx), fieldError, a.lastError); werr != nil {
		log.Ctx(ctx).Error().Err(werr).Str("actor", a.key).Msg("failed to record sync error")
	}
}

// actorID maps a known slug onto the actor's numeric id. Numeric keys and
// slugs never resolved before come back unchanged.
func (e *Engine) actorID(ctx context.Context, key string) (string, bool, error) {
	if n, err := strconv.ParseInt(key, 10, 64); err == nil && n > 0 {
		return key, true, nil
	}
	var id int64
	ok, err := record{store: e.store, container: actorAliases}.read(ctx, key, &id)
	if err != nil || !ok || id <= 0 {
		return key, false, err
	}
	return strconv.FormatInt(id, 10), true, nil
}

// resolveActor returns the id an actor is recorded under. An unknown slug
// costs one profile fetch, which also seeds the id's record.
func (e *Engine) resolveActor(ctx context.Context, key string) (string, error) {
	id, ok, err := e.actorID(ctx, key)
	if err != nil || ok {
		return id, err
	}
	var raw remote.RawUser
	for {
		raw, _, err = e.profiles.Do(inflight.Key("profile", key), func() (remote.RawUser, error) {
			return e.api.Actor(ctx, key)
		})
		// a joined fetch cancelled by its leader is retried
		if err == nil || ctx.Err() != nil || !errors.Is(err, context.Canceled) {
			break
		}
	}
	if err != nil || raw.ID <= 0 {
		return key, err
	}
	id = strconv.FormatInt(raw.ID, 10)
	a, err := e.actor(ctx, id)
	if err != nil {
		return key, err
	}
	a.mu.Lock()
	if !e.fresh(a.profileFetchedAt) {
		a.profile = remote.NormalizeActor(raw)
		a.profileFetchedAt = e.now()
		err = errors.Join(
			a.rec.write(ctx, fieldProfile, a.profile),
			a.rec.write(ctx, fieldProfileFetched, a.profileFetchedAt),
		)
	}
	a.mu.Unlock()
	if err == nil {
		err = record{store: e.store, container: actorAliases}.write(ctx, key, raw.ID)
	}
	if err != nil {
		return key, err
	}
	log.Ctx(ctx).Debug().Str("slug", key).Str("id", id).Msg("actor slug resolved")
	return id, nil
}

// SyncActor brings an actor's profile and owned collection list up to date.
// key is an id or a slug; both resolve to the record of the numeric id. An
// unknown actor yields an error wrapping remote.ErrNotFound.
func (e *Engine) SyncActor(ctx context.Context, key string, opts SyncOptions) (ActorSnapshot, error) {
	key, err := cleanKey(key)
	if err != nil {
		return ActorSnapshot{}, err
	}
	if key, err = e.resolveActor(ctx, key); err != nil {
		if ctx.Err() != nil {
			return ActorSnapshot{}, ctx.Err()
		}
		if a, aerr := e.actor(ctx, key); aerr == nil {
			e.recordActorError(ctx, a, err)
		}
		snap, _ := e.Actor(context.WithoutCancel(ctx), key)
		return snap, err
	}
	for {
		var forced bool
		forced, _, err = e.actorPasses.Do(inflight.Key("actor", key), func() (bool, error) {
			return opts.Force, e.actorPass(withRun(ctx, "actor", key), key, opts)
		})
		var retry bool
		if err, retry = stopped(ctx, err); retry || joinedUnforced(ctx, opts, forced, err) {
			continue
		}
		break
	}
	snap, serr := e.Actor(context.WithoutCancel(ctx), key)
	if err == nil {
		err = serr
	}
	return snap, err
}

func (e *Engine) actorPass(ctx context.Context, key string, opts SyncOptions) error {
	a, err := e.actor(ctx, key)
	if err != nil {
		return err
	}

	a.mu.Lock()
	hadData := a.profile.ID != 0 || len(a.collections.slugs) > 0
	stale := opts.Force || !e.fresh(a.lastFetchedAt)
	if stale {
		if err := a.pages.clear(ctx, e.store); err != nil {
			a.mu.Unlock()
			return err
		}
		a.hasMore = true
		a.lastFetchedAt = time.Time{}
		a.lastError = ""
		err = a.saveProgress(ctx)
	} else if a.lastError != "" {
		a.lastError = ""
		err = a.rec.write(ctx, fieldError, a.lastError)
	}
	needProfile := opts.Force || !e.fresh(a.profileFetchedAt)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	if needProfile {
		raw, err := e.api.Actor(ctx, key)
		switch {
		case ctx.Err() != nil:
			return errStopped
		case err != nil:
			e.recordActorError(ctx, a, err)
			if !hadData || errors.Is(err, remote.ErrNotFound) {
				return err
			}
		default:
			a.mu.Lock()
			a.profile = remote.NormalizeActor(raw)
			a.profileFetchedAt = e.now()
			err = errors.Join(
				a.rec.write(ctx, fieldProfile, a.profile),
				a.rec.write(ctx, fieldProfileFetched, a.profileFetchedAt),
			)
			a.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}

	per := e.cfg.PageSize
	for {
		if ctx.Err() != nil {
			return errStopped
		}
		a.mu.Lock()
		more := a.hasMore
		page, ok := a.pages.next(totalPages(a.profile.CollectionCount, per, 0))
		if more && !ok {
			a.hasMore = false
			err = a.saveProgress(ctx)
		}
		a.mu.Unlock()
		if err != nil {
			return err
		}
		if !more || !ok {
			return nil
		}

		_, _, err = e.pages.Do(inflight.Key("actor-collections", key, strconv.Itoa(page)), func() (struct{}, error) {
			return struct{}{}, e.fetchActorPage(ctx, a, page, per)
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return errStopped
		}
		if errors.Is(err, context.Canceled) {
			err = nil
			continue
		}
		e.recordActorError(ctx, a, err)
		if errors.Is(err, remote.ErrNotFound) {
			return err
		}
		return nil
	}
}

func (e *Engine) fetchActorPage(ctx context.Context, a *actor, page, per int) error {
	resp, err := e.api.ActorCollections(ctx, a.key, page, per)
	if err != nil {
		return fmt.Errorf("collections page %d: %w", page, err)
	}
	slugs := make([]string, 0, len(resp.Channels))
	for _, raw := range resp.Channels {
		if err := e.seedCollection(ctx, raw); err != nil {
			return err
		}
		slugs = append(slugs, raw.Slug)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.collections.add(ctx, e.store, slugs...); err != nil {
		return err
	}
	if err := a.pages.mark(ctx, e.store, page); err != nil {
		return err
	}
	length := a.profile.CollectionCount
	if l := lengthOf(resp.Pagination); l > 0 {
		length = l
	}
	a.hasMore = morePages(signalOf(resp.Pagination, page, per, len(resp.Channels), length, a.pages.max()))
	a.lastFetchedAt = e.now()
	log.Ctx(ctx).Debug().Int("page", page).Int("collections", len(slugs)).Bool("has_more", a.hasMore).Msg("actor page synced")
	return a.saveProgress(ctx)
}

// Actor returns a snapshot of an actor without syncing it.
func (e *Engine) Actor(ctx context.Context, key string) (ActorSnapshot, error) {
	key, err := cleanKey(key)
	if err != nil {
		return ActorSnapshot{}, err
	}
	if key, _, err = e.actorID(ctx, key); err != nil {
		return ActorSnapshot{}, err
	}
	a, err := e.actor(ctx, key)
	if err != nil {
		return ActorSnapshot{}, err
	}
	a.mu.Lock()
	s := ActorSnapshot{
		Actor:         a.profile,
		Slugs:         a.collections.values(),
		FetchedPages:  a.pages.sorted(),
		HasMore:       a.hasMore,
		LastFetchedAt: a.lastFetchedAt,
		Error:         a.lastError,
	}
	a.mu.Unlock()

	for _, slug := range s.Slugs {
		c, err := e.collection(ctx, slug)
		if err != nil {
			return s, err
		}
		c.mu.Lock()
		s.Collections = append(s.Collections, c.meta)
		c.mu.Unlock()
	}
	return s, nil
}
