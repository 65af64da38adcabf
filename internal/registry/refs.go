package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bryan-buckman/chanmirror/internal/database"
)

// RefList is an ordered list of item ids backed by a store list. The id set is
// built once when the list is opened and kept in step with appends, so the
// same id is never appended twice.
type RefList struct {
	mu     sync.Mutex
	handle database.ListHandle
	ids    []int64
	seen   map[int64]struct{}
}

// OpenRefs loads the list behind handle. A list the store has not loaded yet,
// or does not have, opens empty.
func (r *Registry) OpenRefs(ctx context.Context, handle database.ListHandle) (*RefList, error) {
	l := &RefList{handle: handle, seen: make(map[int64]struct{})}
	got, err := r.store.List(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("open list %d: %w", handle, err)
	}
	entries, _ := got.Get()
	for _, e := range entries {
		id, err := strconv.ParseInt(string(e), 10, 64)
		if err != nil {
			continue
		}
		if _, dup := l.seen[id]; dup {
			continue
		}
		l.seen[id] = struct{}{}
		l.ids = append(l.ids, id)
	}
	return l, nil
}

// AppendRefs appends the ids not yet in the list, in order, and returns how
// many were added.
func (r *Registry) AppendRefs(ctx context.Context, l *RefList, ids ...int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []int64
	var values [][]byte
	batch := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := l.seen[id]; ok {
			continue
		}
		if _, ok := batch[id]; ok {
			continue
		}
		batch[id] = struct{}{}
		fresh = append(fresh, id)
		values = append(values, []byte(strconv.FormatInt(id, 10)))
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := r.store.Append(ctx, l.handle, values...); err != nil {
		return 0, fmt.Errorf("append to list %d: %w", l.handle, err)
	}
	for _, id := range fresh {
		l.seen[id] = struct{}{}
		l.ids = append(l.ids, id)
	}
	return len(fresh), nil
}

// Handle returns the backing store list.
func (l *RefList) Handle() database.ListHandle {
	return l.handle
}

// IDs returns a copy of the ids in list order.
func (l *RefList) IDs() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.ids...)
}

// Contains reports whether id is in the list.
func (l *RefList) Contains(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Len returns the number of ids in the list.
func (l *RefList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}
