package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/registry"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/rs/zerolog/log"
)

// Record fields of a collection container.
const (
	fieldMeta               = "meta"
	fieldHasMore            = "has_more"
	fieldLastFetched        = "last_fetched_at"
	fieldMetaFetched        = "meta_fetched_at"
	fieldConnectionsFetched = "connections_fetched_at"
	fieldError              = "error"
	fieldItems              = "items_list"
	fieldPages              = "pages_list"
	fieldConnections        = "connections_list"
)

// collection is the in-memory view of one collection record. mu guards every
// field after hydration.
type collection struct {
	mu     sync.Mutex
	slug   string
	rec    record
	loaded bool

	meta                 model.Collection
	hasMore              bool
	lastFetchedAt        time.Time
	metaFetchedAt        time.Time
	connectionsFetchedAt time.Time
	lastError            string

	items       *registry.RefList
	pages       *pageSet
	connections *slugList
}

// Snapshot is a read-only copy of a collection for the rendering layer.
type Snapshot struct {
	Collection           model.Collection `json:"collection"`
	ItemIDs              []int64          `json:"item_ids"`
	Items                []model.Item     `json:"items"`
	FetchedPages         []int            `json:"fetched_pages"`
	HasMore              bool             `json:"has_more"`
	LastFetchedAt        time.Time        `json:"last_fetched_at"`
	MetadataFetchedAt    time.Time        `json:"metadata_fetched_at"`
	Connections          []string         `json:"connections"`
	ConnectionsFetchedAt time.Time        `json:"connections_fetched_at"`
	Error                string           `json:"error,omitempty"`
}

// State places the snapshot in the sync state machine.
func (s Snapshot) State() model.SyncState {
	return stateOf(s.Error, len(s.FetchedPages), s.Collection.ID != 0 || len(s.ItemIDs) > 0, s.HasMore)
}

func stateOf(lastError string, pages int, known, hasMore bool) model.SyncState {
	switch {
	case lastError != "":
		return model.StateError
	case pages == 0 && !known:
		return model.StateFresh
	case pages == 0:
		return model.StateMetadataOnly
	case hasMore:
		return model.StatePartial
	default:
		return model.StateComplete
	}
}

func collectionContainer(slug string) string {
	return "collection:" + slug
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty key")
	}
	return key, nil
}

// collection returns the hydrated state of slug, loading it from the store on
// first reference.
func (e *Engine) collection(ctx context.Context, slug string) (*collection, error) {
	e.mu.Lock()
	c, ok := e.collections[slug]
	if !ok {
		c = &collection{slug: slug, rec: record{store: e.store, container: collectionContainer(slug)}}
		e.collections[slug] = c
	}
	e.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c, nil
	}
	if err := e.loadCollection(ctx, c); err != nil {
		return nil, fmt.Errorf("load collection %s: %w", slug, err)
	}
	c.loaded = true
	return c, nil
}

// loadCollection reads the record. Fields the store has not loaded yet are
// treated as absent, so the collection starts out fresh.
func (e *Engine) loadCollection(ctx context.Context, c *collection) error {
	c.meta = model.Collection{Slug: c.slug}
	c.hasMore = true
	fields := []struct {
		key string
		out any
	}{
		{fieldMeta, &c.meta},
		{fieldHasMore, &c.hasMore},
		{fieldLastFetched, &c.lastFetchedAt},
		{fieldMetaFetched, &c.metaFetchedAt},
		{fieldConnectionsFetched, &c.connectionsFetchedAt},
		{fieldError, &c.lastError},
	}
	for _, f := range fields {
		if _, err := c.rec.read(ctx, f.key, f.out); err != nil {
			return err
		}
	}

	h, err := c.rec.list(ctx, fieldItems)
	if err != nil {
		return err
	}
	if c.items, err = e.registry.OpenRefs(ctx, h); err != nil {
		return err
	}
	if h, err = c.rec.list(ctx, fieldPages); err != nil {
		return err
	}
	if c.pages, err = openPageSet(ctx, e.store, h); err != nil {
		return err
	}
	if h, err = c.rec.list(ctx, fieldConnections); err != nil {
		return err
	}
	c.connections, err = openSlugList(ctx, e.store, h)
	return err
}

// saveProgress persists the pagination fields. c.mu must be held.
func (c *collection) saveProgress(ctx context.Context) error {
	return errors.Join(
		c.rec.write(ctx, fieldHasMore, c.hasMore),
		c.rec.write(ctx, fieldLastFetched, c.lastFetchedAt),
		c.rec.write(ctx, fieldError, c.lastError),
	)
}

// reset clears the pagination bookkeeping and the recorded error. Items stay.
func (e *Engine) resetCollection(ctx context.Context, c *collection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pages.clear(ctx, e.store); err != nil {
		return err
	}
	c.hasMore = true
	c.lastFetchedAt = time.Time{}
	c.lastError = ""
	return c.saveProgress(ctx)
}

// recordError stores err on the collection. The write outlives ctx so a
// failure is not lost when the caller gives up at the same moment.
func (e *Engine) recordError(ctx context.Context, c *collection, err error) {
	log.Ctx(ctx).Warn().Err(err).Str("collection", c.slug).Msg("sync error recorded")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = truncateError(err)
	if werr := c.rec.write(context.WithoutCancel(ctx), fieldError, c.lastError); werr != nil {
		log.Ctx(ctx).Error().Err(werr).Str("collection", c.slug).Msg("failed to record sync error")
	}
}

// seedCollection stores the metadata of a collection seen inside another
// payload when nothing better is known yet, and merges any nested contents
// into the registry.
func (e *Engine) seedCollection(ctx context.Context, raw remote.RawCollection) error {
	if raw.Slug == "" {
		return nil
	}
	c, err := e.collection(ctx, raw.Slug)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.meta.ID == 0 {
		c.meta = remote.NormalizeCollection(raw)
		err = c.rec.write(ctx, fieldMeta, c.meta)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	for _, nested := range raw.Contents {
		it := remote.NormalizeItem(nested)
		if it.ID == 0 {
			continue
		}
		if _, err := e.registry.Merge(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// Collection returns a snapshot of slug without syncing it.
func (e *Engine) Collection(ctx context.Context, slug string) (Snapshot, error) {
	slug, err := cleanKey(slug)
	if err != nil {
		return Snapshot{}, err
	}
	c, err := e.collection(ctx, slug)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(ctx, c)
}

func (e *Engine) snapshot(ctx context.Context, c *collection) (Snapshot, error) {
	c.mu.Lock()
	s := Snapshot{
		Collection:           c.meta,
		ItemIDs:              c.items.IDs(),
		FetchedPages:         c.pages.sorted(),
		HasMore:              c.hasMore,
		LastFetchedAt:        c.lastFetchedAt,
		MetadataFetchedAt:    c.metaFetchedAt,
		Connections:          c.connections.values(),
		ConnectionsFetchedAt: c.connectionsFetchedAt,
		Error:                c.lastError,
	}
	c.mu.Unlock()

	items, err := e.registry.Resolve(ctx, s.ItemIDs)
	if err != nil {
		return s, err
	}
	s.Items = items
	return s, nil
}

// Stale reports whether the next sync of s starts over from page one.
func (e *Engine) Stale(s Snapshot) bool {
	return !e.fresh(s.LastFetchedAt)
}
