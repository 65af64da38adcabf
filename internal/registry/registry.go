// Package registry keeps exactly one entry per remote item id and merges
// fresh copies into it without ever degrading data already obtained.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"codeberg.org/gruf/go-mutexes"
	"github.com/bryan-buckman/chanmirror/internal/database"
	"github.com/bryan-buckman/chanmirror/internal/model"
)

// ItemsContainer is the store container holding the global item registry.
const ItemsContainer = "items"

// Registry is the shared item registry. Construct one per application.
type Registry struct {
	store database.Store
	locks *mutexes.MutexMap
}

// New creates a registry over store.
func New(store database.Store) *Registry {
	return &Registry{
		store: store,
		locks: &mutexes.MutexMap{},
	}
}

func itemKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Get reads an entry. A value the store has not loaded yet is reported as
// NotLoaded and must be treated as absent by callers.
func (r *Registry) Get(ctx context.Context, id int64) (model.Lookup[model.Item], error) {
	raw, err := r.store.Get(ctx, ItemsContainer, itemKey(id))
	if err != nil {
		return model.Lookup[model.Item]{}, fmt.Errorf("get item %d: %w", id, err)
	}
	data, ok := raw.Get()
	if !ok {
		return model.Lookup[model.Item]{State: raw.State}, nil
	}
	var it model.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return model.Lookup[model.Item]{}, fmt.Errorf("decode item %d: %w", id, err)
	}
	return model.Found(it), nil
}

// MeasuredAspects returns the measured aspects already registered for ids.
func (r *Registry) MeasuredAspects(ctx context.Context, ids []int64) (map[int64]model.Aspect, error) {
	out := make(map[int64]model.Aspect, len(ids))
	for _, id := range ids {
		got, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if it, ok := got.Get(); ok && it.Aspect.Measured() {
			out[id] = it.Aspect
		}
	}
	return out, nil
}

// Merge folds incoming into the registry entry for its id, creating the entry
// when absent. It returns the entry as stored.
func (r *Registry) Merge(ctx context.Context, incoming model.Item) (model.Item, error) {
	unlock := r.locks.Lock(itemKey(incoming.ID))
	defer unlock()

	cur, err := r.Get(ctx, incoming.ID)
	if err != nil {
		return model.Item{}, err
	}
	next := incoming
	if existing, ok := cur.Get(); ok {
		var changed bool
		next, changed = MergeItem(existing, incoming)
		if !changed {
			return existing, nil
		}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return model.Item{}, err
	}
	if err := r.store.Set(ctx, ItemsContainer, itemKey(next.ID), data); err != nil {
		return model.Item{}, fmt.Errorf("set item %d: %w", next.ID, err)
	}
	return next, nil
}

// Resolve returns the entries for ids in order, skipping ids that are absent
// or not loaded.
func (r *Registry) Resolve(ctx context.Context, ids []int64) ([]model.Item, error) {
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		got, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if it, ok := got.Get(); ok {
			out = append(out, it)
		}
	}
	return out, nil
}
