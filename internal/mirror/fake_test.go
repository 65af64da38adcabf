package mirror

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/database"
	"github.com/bryan-buckman/chanmirror/internal/measure"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/registry"
	"github.com/bryan-buckman/chanmirror/internal/remote"
)

var ctx = context.Background()

// fakeAPI serves canned collections and actors and counts every call.
type fakeAPI struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	actors      map[string]*fakeActor
	itemColls   map[int64][]remote.RawCollection
	calls       map[string]int
	fail        map[string]error
	delay       time.Duration
	// onCall runs before a call is served, outside the lock.
	onCall func(key string)
}

type fakeCollection struct {
	raw         remote.RawCollection
	items       []remote.RawItem
	noLength    bool
	hint        int
	connections []remote.RawCollection
}

type fakeActor struct {
	raw         remote.RawUser
	collections []remote.RawCollection
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		collections: make(map[string]*fakeCollection),
		actors:      make(map[string]*fakeActor),
		itemColls:   make(map[int64][]remote.RawCollection),
		calls:       make(map[string]int),
		fail:        make(map[string]error),
	}
}

func (f *fakeAPI) addCollection(slug string, id int64, items []remote.RawItem) *fakeCollection {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeCollection{
		raw:   remote.RawCollection{ID: id, Slug: slug, Title: "Collection " + slug},
		items: items,
	}
	f.collections[slug] = c
	return c
}

func (f *fakeAPI) setFail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, key)
		return
	}
	f.fail[key] = err
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeAPI) setOnCall(fn func(key string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCall = fn
}

func (f *fakeAPI) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeAPI) serve(ctx context.Context, key string) error {
	f.mu.Lock()
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	f.mu.Lock()
	f.calls[key]++
	err := f.fail[key]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (f *fakeAPI) collection(slug string) (*fakeCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[slug]
	if !ok {
		return nil, &remote.HTTPError{StatusCode: 404, Status: "404 Not Found", URL: slug}
	}
	return c, nil
}

func lengthPtr(n int) *int { return &n }

// length is the count hint the fake reports.
func (c *fakeCollection) length() int {
	if c.hint > 0 {
		return c.hint
	}
	return len(c.items)
}

func (f *fakeAPI) Collection(ctx context.Context, slug string) (remote.RawCollection, error) {
	if err := f.serve(ctx, "meta:"+slug); err != nil {
		return remote.RawCollection{}, err
	}
	c, err := f.collection(slug)
	if err != nil {
		return remote.RawCollection{}, err
	}
	raw := c.raw
	if !c.noLength {
		raw.Length = lengthPtr(c.length())
	}
	return raw, nil
}

func (f *fakeAPI) Contents(ctx context.Context, slug string, page, per int) (remote.ContentsPage, error) {
	if err := f.serve(ctx, fmt.Sprintf("contents:%s:%d:%d", slug, page, per)); err != nil {
		return remote.ContentsPage{}, err
	}
	c, err := f.collection(slug)
	if err != nil {
		return remote.ContentsPage{}, err
	}
	var out remote.ContentsPage
	out.Page, out.Per = page, per
	if !c.noLength {
		out.Length = lengthPtr(c.length())
	}
	out.Contents = window(c.items, page, per)
	return out, nil
}

func (f *fakeAPI) Connections(ctx context.Context, slug string, page, per int) (remote.CollectionsPage, error) {
	if err := f.serve(ctx, fmt.Sprintf("connections:%s:%d", slug, page)); err != nil {
		return remote.CollectionsPage{}, err
	}
	c, err := f.collection(slug)
	if err != nil {
		return remote.CollectionsPage{}, err
	}
	return remote.CollectionsPage{Channels: window(c.connections, page, per)}, nil
}

func (f *fakeAPI) ItemCollections(ctx context.Context, itemID int64, page, per int) (remote.CollectionsPage, error) {
	if err := f.serve(ctx, fmt.Sprintf("item:%d:%d", itemID, page)); err != nil {
		return remote.CollectionsPage{}, err
	}
	f.mu.Lock()
	all := f.itemColls[itemID]
	f.mu.Unlock()
	return remote.CollectionsPage{Channels: window(all, page, per)}, nil
}

func (f *fakeAPI) Actor(ctx context.Context, key string) (remote.RawUser, error) {
	if err := f.serve(ctx, "actor:"+key); err != nil {
		return remote.RawUser{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actor(key)
	if !ok {
		return remote.RawUser{}, fmt.Errorf("actor %s: %w", key, remote.ErrNotFound)
	}
	return a.raw, nil
}

// actor finds an actor by the key it was added under or by its slug.
func (f *fakeAPI) actor(key string) (*fakeActor, bool) {
	if a, ok := f.actors[key]; ok {
		return a, true
	}
	for _, a := range f.actors {
		if a.raw.Slug == key {
			return a, true
		}
	}
	return nil, false
}

func (f *fakeAPI) ActorCollections(ctx context.Context, key string, page, per int) (remote.CollectionsPage, error) {
	if err := f.serve(ctx, fmt.Sprintf("actor-collections:%s:%d", key, page)); err != nil {
		return remote.CollectionsPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actor(key)
	if !ok {
		return remote.CollectionsPage{}, fmt.Errorf("actor %s: %w", key, remote.ErrNotFound)
	}
	return remote.CollectionsPage{Channels: window(a.collections, page, per)}, nil
}

func window[T any](all []T, page, per int) []T {
	start := (page - 1) * per
	if start >= len(all) {
		return nil
	}
	return all[start:min(start+per, len(all))]
}

func textItems(first int64, n int) []remote.RawItem {
	out := make([]remote.RawItem, n)
	for i := range out {
		id := first + int64(i)
		out[i] = remote.RawItem{ID: id, Class: "Text", Title: fmt.Sprintf("item %d", id)}
	}
	return out
}

func imageItem(id int64, thumb string) remote.RawItem {
	return remote.RawItem{ID: id, Class: "Image", Image: &remote.RawImage{Thumb: &remote.ImageVersion{URL: thumb}}}
}

// countingLoader reports every image as 3:2 and counts loads per url. delays
// overrides delay for single urls.
type countingLoader struct {
	mu     sync.Mutex
	loads  map[string]int
	delay  time.Duration
	delays map[string]time.Duration
}

func (l *countingLoader) Dimensions(ctx context.Context, url string) (int, int, error) {
	l.mu.Lock()
	if l.loads == nil {
		l.loads = make(map[string]int)
	}
	l.loads[url]++
	delay := l.delay
	if d, ok := l.delays[url]; ok {
		delay = d
	}
	l.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	return 300, 200, nil
}

func (l *countingLoader) count(urls ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, u := range urls {
		n += l.loads[u]
	}
	return n
}

func (l *countingLoader) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.loads {
		n += c
	}
	return n
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	api    *fakeAPI
	store  *database.MemoryStore
	loader *countingLoader
	clock  *clock
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		api:    newFakeAPI(),
		store:  database.NewMemory(),
		loader: &countingLoader{},
		clock:  newClock(),
	}
	cfg.Now = f.clock.Now
	f.engine = f.newEngine(cfg)
	return f
}

// newEngine builds another engine over the fixture's store, as a restarted
// process would.
func (f *fixture) newEngine(cfg Config) *Engine {
	cfg.Now = f.clock.Now
	batcher := measure.NewBatcher(f.loader, measure.Config{Concurrency: 4})
	return New(f.api, f.store, registry.New(f.store), batcher, cfg)
}

func (f *fixture) sync(t *testing.T, slug string, opts SyncOptions) Snapshot {
	t.Helper()
	snap, err := f.engine.SyncCollection(ctx, slug, opts)
	if err != nil {
		t.Fatalf("sync %s: %v", slug, err)
	}
	return snap
}

func itemIDs(items []model.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
