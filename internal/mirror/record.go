package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/bryan-buckman/chanmirror/internal/database"
)

// record is a store container whose keys are field names. Values are JSON.
type record struct {
	store     database.Store
	container string
}

// read decodes a field into out. It reports false, leaving out untouched, when
// the field is absent or not loaded yet.
func (r record) read(ctx context.Context, key string, out any) (bool, error) {
	got, err := r.store.Get(ctx, r.container, key)
	if err != nil {
		return false, fmt.Errorf("read %s.%s: %w", r.container, key, err)
	}
	data, ok := got.Get()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s.%s: %w", r.container, key, err)
	}
	return true, nil
}

func (r record) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.container, key, data); err != nil {
		return fmt.Errorf("write %s.%s: %w", r.container, key, err)
	}
	return nil
}

// list returns the list handle stored in key, creating the list on first use.
func (r record) list(ctx context.Context, key string) (database.ListHandle, error) {
	var h database.ListHandle
	ok, err := r.read(ctx, key, &h)
	if err != nil || ok {
		return h, err
	}
	h, err = r.store.CreateList(ctx, r.container+"/"+key)
	if err != nil {
		return 0, fmt.Errorf("create list %s.%s: %w", r.container, key, err)
	}
	return h, r.write(ctx, key, h)
}

// pageSet is the set of fetched page numbers, kept in marking order in a store
// list. Callers serialise access.
type pageSet struct {
	handle database.ListHandle
	order  []int
}

func openPageSet(ctx context.Context, store database.Store, h database.ListHandle) (*pageSet, error) {
	got, err := store.List(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("open page list %d: %w", h, err)
	}
	p := &pageSet{handle: h}
	entries, _ := got.Get()
	for _, e := range entries {
		n, err := strconv.Atoi(string(e))
		if err != nil || p.has(n) {
			continue
		}
		p.order = append(p.order, n)
	}
	return p, nil
}

func (p *pageSet) has(n int) bool {
	return slices.Contains(p.order, n)
}

func (p *pageSet) len() int {
	return len(p.order)
}

func (p *pageSet) mark(ctx context.Context, store database.Store, n int) error {
	if p.has(n) {
		return nil
	}
	if err := store.Append(ctx, p.handle, []byte(strconv.Itoa(n))); err != nil {
		return fmt.Errorf("mark page %d: %w", n, err)
	}
	p.order = append(p.order, n)
	return nil
}

func (p *pageSet) unmark(ctx context.Context, store database.Store, n int) error {
	i := slices.Index(p.order, n)
	if i < 0 {
		return nil
	}
	if err := store.Splice(ctx, p.handle, i, 1); err != nil {
		return fmt.Errorf("unmark page %d: %w", n, err)
	}
	p.order = slices.Delete(p.order, i, i+1)
	return nil
}

func (p *pageSet) clear(ctx context.Context, store database.Store) error {
	if err := store.Splice(ctx, p.handle, 0, math.MaxInt); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}
	p.order = nil
	return nil
}

func (p *pageSet) max() int {
	if len(p.order) == 0 {
		return 0
	}
	return slices.Max(p.order)
}

func (p *pageSet) sorted() []int {
	out := slices.Clone(p.order)
	slices.Sort(out)
	return out
}

// next returns the lowest page not yet fetched. total bounds the search when
// positive.
func (p *pageSet) next(total int) (int, bool) {
	for n := 1; ; n++ {
		if total > 0 && n > total {
			return 0, false
		}
		if !p.has(n) {
			return n, true
		}
	}
}

// slugList is an ordered, duplicate free list of slugs in a store list.
// Callers serialise access.
type slugList struct {
	handle database.ListHandle
	slugs  []string
}

func openSlugList(ctx context.Context, store database.Store, h database.ListHandle) (*slugList, error) {
	got, err := store.List(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("open slug list %d: %w", h, err)
	}
	l := &slugList{handle: h}
	entries, _ := got.Get()
	for _, e := range entries {
		if s := string(e); s != "" && !l.contains(s) {
			l.slugs = append(l.slugs, s)
		}
	}
	return l, nil
}

func (l *slugList) contains(slug string) bool {
	return slices.Contains(l.slugs, slug)
}

func (l *slugList) values() []string {
	return slices.Clone(l.slugs)
}

// add appends the slugs not in the list yet and returns how many were added.
func (l *slugList) add(ctx context.Context, store database.Store, slugs ...string) (int, error) {
	var fresh []string
	var values [][]byte
	for _, s := range slugs {
		if s == "" || l.contains(s) || slices.Contains(fresh, s) {
			continue
		}
		fresh = append(fresh, s)
		values = append(values, []byte(s))
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := store.Append(ctx, l.handle, values...); err != nil {
		return 0, fmt.Errorf("append slugs: %w", err)
	}
	l.slugs = append(l.slugs, fresh...)
	return len(fresh), nil
}

func (l *slugList) remove(ctx context.Context, store database.Store, slug string) (bool, error) {
	i := slices.Index(l.slugs, slug)
	if i < 0 {
		return false, nil
	}
	if err := store.Splice(ctx, l.handle, i, 1); err != nil {
		return false, fmt.Errorf("remove slug %s: %w", slug, err)
	}
	l.slugs = slices.Delete(l.slugs, i, i+1)
	return true, nil
}

// replace swaps the whole list for slugs, dropping duplicates.
func (l *slugList) replace(ctx context.Context, store database.Store, slugs []string) error {
	var next []string
	var values [][]byte
	for _, s := range slugs {
		if s == "" || slices.Contains(next, s) {
			continue
		}
		next = append(next, s)
		values = append(values, []byte(s))
	}
	if err := store.Splice(ctx, l.handle, 0, math.MaxInt, values...); err != nil {
		return fmt.Errorf("replace slugs: %w", err)
	}
	l.slugs = next
	return nil
}
