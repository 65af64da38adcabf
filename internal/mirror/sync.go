package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bryan-buckman/chanmirror/internal/inflight"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/rs/zerolog/log"
)

// SyncCollection brings slug up to date and returns its snapshot. Calls for a
// slug already being synced join the running pass. Cancelling ctx stops the
// pass between pages and is not an error.
func (e *Engine) SyncCollection(ctx context.Context, slug string, opts SyncOptions) (Snapshot, error) {
	slug, err := cleanKey(slug)
	if err != nil {
		return Snapshot{}, err
	}
	for {
		var forced bool
		forced, _, err = e.passes.Do(inflight.Key("sync", slug), func() (bool, error) {
			return opts.Force, e.syncPass(withRun(ctx, "collection", slug), slug, opts)
		})
		var retry bool
		if err, retry = stopped(ctx, err); retry || joinedUnforced(ctx, opts, forced, err) {
			continue
		}
		break
	}

	c, cerr := e.collection(context.WithoutCancel(ctx), slug)
	if cerr != nil {
		return Snapshot{}, errors.Join(err, cerr)
	}
	snap, serr := e.snapshot(context.WithoutCancel(ctx), c)
	if err == nil {
		err = serr
	}
	return snap, err
}

func (e *Engine) syncPass(ctx context.Context, slug string, opts SyncOptions) error {
	logger := log.Ctx(ctx)
	c, err := e.collection(ctx, slug)
	if err != nil {
		return err
	}

	c.mu.Lock()
	hadData := c.meta.ID != 0 || c.items.Len() > 0
	stale := opts.Force || !e.fresh(c.lastFetchedAt)
	if !stale && c.lastError != "" {
		// The recorded error describes the previous pass.
		c.lastError = ""
		err = c.rec.write(ctx, fieldError, c.lastError)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if stale {
		logger.Debug().Bool("force", opts.Force).Msg("resetting pagination")
		if err := e.resetCollection(ctx, c); err != nil {
			return err
		}
	}

	metaDone := make(chan error, 1)
	go func() {
		metaDone <- e.syncMetadata(ctx, c, opts.Force)
	}()

	c.mu.Lock()
	boost := e.cfg.BoostSize > 0 && e.cfg.BoostSize < e.cfg.PageSize && c.pages.len() == 0 && c.hasMore
	c.mu.Unlock()

	metaWaited := false
	if boost {
		boostErr := e.syncPage(ctx, c, 1, e.cfg.BoostSize, true)
		metaErr := <-metaDone
		metaWaited = true

		// Page one is fetched again at full size by the loop below.
		c.mu.Lock()
		err := c.pages.unmark(context.WithoutCancel(ctx), e.store, 1)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return errStopped
		}
		if metaErr != nil && !hadData {
			return metaErr
		}
		if boostErr != nil {
			e.recordError(ctx, c, boostErr)
			return nil
		}
	}

	fetched := 0
	for {
		if ctx.Err() != nil {
			return errStopped
		}
		c.mu.Lock()
		more := c.hasMore
		page, ok := c.pages.next(totalPages(c.meta.Length, e.cfg.PageSize, 0))
		if more && !ok {
			c.hasMore = false
			err = c.saveProgress(ctx)
		}
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if !more || !ok {
			break
		}

		err = e.syncPage(ctx, c, page, e.cfg.PageSize, false)
		if err == nil {
			fetched++
			continue
		}
		if ctx.Err() != nil {
			return errStopped
		}
		if errors.Is(err, context.Canceled) {
			// A ticket shared with a caller that went away; ask again.
			err = nil
			continue
		}
		e.recordError(ctx, c, err)
		err = nil
		break
	}

	if !metaWaited {
		metaErr := <-metaDone
		if ctx.Err() != nil {
			return errStopped
		}
		if metaErr != nil && !hadData {
			return metaErr
		}
	}
	logger.Info().Int("pages", fetched).Msg("collection sync finished")
	return nil
}

// syncPage fetches, measures and merges one page. Concurrent requests for the
// same page share one fetch.
func (e *Engine) syncPage(ctx context.Context, c *collection, page, per int, boost bool) error {
	parts := []string{strconv.Itoa(page), strconv.Itoa(per)}
	if boost {
		parts = append(parts, "boost")
	}
	_, _, err := e.pages.Do(inflight.Key("contents", c.slug, parts...), func() (struct{}, error) {
		return struct{}{}, e.fetchPage(ctx, c, page, per, boost)
	})
	return err
}

func (e *Engine) fetchPage(ctx context.Context, c *collection, page, per int, boost bool) error {
	resp, err := e.api.Contents(ctx, c.slug, page, per)
	if err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}
	items := make([]model.Item, 0, len(resp.Contents))
	for _, raw := range resp.Contents {
		if it := remote.NormalizeItem(raw); it.ID != 0 {
			items = append(items, it)
		}
	}
	ids, err := e.ingest(ctx, items)
	if err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}
	if _, err := e.registry.AppendRefs(ctx, c.items, ids...); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.Length != nil && *resp.Length > 0 && *resp.Length != c.meta.Length {
		c.meta.Length = *resp.Length
		if err := c.rec.write(ctx, fieldMeta, c.meta); err != nil {
			return err
		}
	}
	if err := c.pages.mark(ctx, e.store, page); err != nil {
		return err
	}
	if !boost {
		c.hasMore = morePages(signalOf(resp.Pagination, page, per, len(resp.Contents), c.meta.Length, c.pages.max()))
	}
	c.lastFetchedAt = e.now()
	log.Ctx(ctx).Debug().Int("page", page).Int("per", per).Int("items", len(items)).Bool("has_more", c.hasMore).Msg("page synced")
	return c.saveProgress(ctx)
}

// ingest measures the items the registry has no measured aspect for and merges
// every item into the registry. It returns the item ids in page order.
func (e *Engine) ingest(ctx context.Context, items []model.Item) ([]int64, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	existing, err := e.registry.MeasuredAspects(ctx, ids)
	if err != nil {
		return nil, err
	}
	var pending []model.Item
	for _, it := range items {
		if _, ok := existing[it.ID]; !ok {
			pending = append(pending, it)
		}
	}
	measured := make(map[int64]model.Item, len(pending))
	for _, it := range e.batcher.MeasureBatch(ctx, pending, existing) {
		measured[it.ID] = it
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, it := range items {
		if m, ok := measured[it.ID]; ok {
			it = m
		}
		if _, err := e.registry.Merge(ctx, it); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
