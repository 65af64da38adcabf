package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bryan-buckman/chanmirror/internal/inflight"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/remote"
)

// syncMetadata refreshes title, description, author and the count hint once
// they are older than MaxAge. Failures are recorded on the collection.
func (e *Engine) syncMetadata(ctx context.Context, c *collection, force bool) error {
	c.mu.Lock()
	fresh := !force && e.fresh(c.metaFetchedAt)
	c.mu.Unlock()
	if fresh {
		return nil
	}

	_, _, err := e.subflows.Do(inflight.Key("meta", c.slug), func() (struct{}, error) {
		raw, err := e.api.Collection(ctx, c.slug)
		if err != nil {
			return struct{}{}, fmt.Errorf("metadata: %w", err)
		}
		meta := remote.NormalizeCollection(raw)
		if meta.Slug == "" {
			meta.Slug = c.slug
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.meta = meta
		c.metaFetchedAt = e.now()
		return struct{}{}, errors.Join(
			c.rec.write(ctx, fieldMeta, c.meta),
			c.rec.write(ctx, fieldMetaFetched, c.metaFetchedAt),
		)
	})
	if err != nil && ctx.Err() == nil {
		e.recordError(ctx, c, err)
	}
	return err
}

// SyncConnections refreshes the collections related to slug once the list is
// older than MaxAge, walking every page, and returns the snapshot.
func (e *Engine) SyncConnections(ctx context.Context, slug string, opts SyncOptions) (Snapshot, error) {
	slug, err := cleanKey(slug)
	if err != nil {
		return Snapshot{}, err
	}
	ctx = withRun(ctx, "collection", slug)
	c, err := e.collection(ctx, slug)
	if err != nil {
		return Snapshot{}, err
	}
	err = e.syncConnections(ctx, c, opts.Force)
	if ctx.Err() != nil {
		err = nil
	}
	snap, serr := e.snapshot(context.WithoutCancel(ctx), c)
	if err == nil {
		err = serr
	}
	return snap, err
}

func (e *Engine) syncConnections(ctx context.Context, c *collection, force bool) error {
	c.mu.Lock()
	fresh := !force && e.fresh(c.connectionsFetchedAt)
	c.mu.Unlock()
	if fresh {
		return nil
	}

	_, _, err := e.subflows.Do(inflight.Key("connections", c.slug), func() (struct{}, error) {
		per := e.cfg.ConnectionsPageSize
		var slugs []string
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				return struct{}{}, err
			}
			resp, err := e.api.Connections(ctx, c.slug, page, per)
			if err != nil {
				return struct{}{}, fmt.Errorf("connections page %d: %w", page, err)
			}
			for _, raw := range resp.Channels {
				if raw.Slug == "" {
					continue
				}
				slugs = append(slugs, raw.Slug)
				if err := e.seedCollection(ctx, raw); err != nil {
					return struct{}{}, err
				}
			}
			if !morePages(signalOf(resp.Pagination, page, per, len(resp.Channels), lengthOf(resp.Pagination), page)) {
				break
			}
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.connections.replace(ctx, e.store, slugs); err != nil {
			return struct{}{}, err
		}
		c.connectionsFetchedAt = e.now()
		return struct{}{}, c.rec.write(ctx, fieldConnectionsFetched, c.connectionsFetchedAt)
	})
	if err != nil && ctx.Err() == nil {
		e.recordError(ctx, c, err)
	}
	return err
}

func lengthOf(p remote.Pagination) int {
	if p.Length != nil && *p.Length > 0 {
		return *p.Length
	}
	return 0
}

// ItemCollections lists the collections an item appears in. It is an
// interactive lookup: requests skip the pacing gate, and concurrent lookups of
// the same page share one request.
func (e *Engine) ItemCollections(ctx context.Context, itemID int64) ([]model.Collection, error) {
	per := e.cfg.ConnectionsPageSize
	id := strconv.FormatInt(itemID, 10)
	var out []model.Collection
	seen := make(map[string]bool)
	for page := 1; ; page++ {
		resp, _, err := e.lookups.Do(inflight.Key("item-collections", id, strconv.Itoa(page)), func() (remote.CollectionsPage, error) {
			return e.api.ItemCollections(ctx, itemID, page, per)
		})
		if err != nil {
			return out, fmt.Errorf("collections of item %d: %w", itemID, err)
		}
		for _, raw := range resp.Channels {
			if raw.Slug == "" || seen[raw.Slug] {
				continue
			}
			seen[raw.Slug] = true
			out = append(out, remote.NormalizeCollection(raw))
			if err := e.seedCollection(ctx, raw); err != nil {
				return out, err
			}
		}
		if !morePages(signalOf(resp.Pagination, page, per, len(resp.Channels), lengthOf(resp.Pagination), page)) {
			return out, nil
		}
	}
}

// Item returns the registry entry for id.
func (e *Engine) Item(ctx context.Context, id int64) (model.Lookup[model.Item], error) {
	return e.registry.Get(ctx, id)
}
