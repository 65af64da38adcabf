package mirror

import (
	"context"
	"strings"
)

const watchRecord = "watchlist"

// watchList opens the persisted watch list once. e.watchMu must be held.
func (e *Engine) watchList(ctx context.Context) (*slugList, error) {
	if e.watch != nil {
		return e.watch, nil
	}
	rec := record{store: e.store, container: watchRecord}
	h, err := rec.list(ctx, "slugs")
	if err != nil {
		return nil, err
	}
	l, err := openSlugList(ctx, e.store, h)
	if err != nil {
		return nil, err
	}
	e.watch = l
	return l, nil
}

// Watch adds slugs to the watch list and returns how many were new.
func (e *Engine) Watch(ctx context.Context, slugs ...string) (int, error) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	l, err := e.watchList(ctx)
	if err != nil {
		return 0, err
	}
	clean := make([]string, 0, len(slugs))
	for _, s := range slugs {
		clean = append(clean, strings.TrimSpace(s))
	}
	return l.add(ctx, e.store, clean...)
}

// Unwatch removes slug from the watch list.
func (e *Engine) Unwatch(ctx context.Context, slug string) (bool, error) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	l, err := e.watchList(ctx)
	if err != nil {
		return false, err
	}
	return l.remove(ctx, e.store, strings.TrimSpace(slug))
}

// Watched returns the watch list in the order slugs were added.
func (e *Engine) Watched(ctx context.Context) ([]string, error) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	l, err := e.watchList(ctx)
	if err != nil {
		return nil, err
	}
	return l.values(), nil
}
