package mirror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/database"
	"github.com/bryan-buckman/chanmirror/internal/measure"
	"github.com/bryan-buckman/chanmirror/internal/mocks"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/registry"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"
)

func seq(first, n int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)
	}
	return out
}

func checkCalls(t *testing.T, api *fakeAPI, want map[string]int) {
	t.Helper()
	for key, n := range want {
		if got := api.count(key); got != n {
			t.Errorf("%s: expected %d calls, got %d", key, n, got)
		}
	}
}

func TestPaginationWithCountHint(t *testing.T) {
	cases := []struct {
		name  string
		boost int
		calls map[string]int
	}{
		{
			name:  "full pages only",
			boost: 0,
			calls: map[string]int{"contents:a:1:50": 1, "contents:a:2:50": 1, "contents:a:3:50": 1, "contents:a:4:50": 0, "meta:a": 1},
		},
		{
			name:  "boost page first",
			boost: 5,
			calls: map[string]int{"contents:a:1:5": 1, "contents:a:1:50": 1, "contents:a:2:50": 1, "contents:a:3:50": 1, "contents:a:4:50": 0, "meta:a": 1},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, Config{PageSize: 50, BoostSize: c.boost})
			f.api.addCollection("a", 1, textItems(1, 120))

			snap := f.sync(t, "a", SyncOptions{})
			if diff := cmp.Diff([]int{1, 2, 3}, snap.FetchedPages); diff != "" {
				t.Errorf("fetched pages (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(seq(1, 120), snap.ItemIDs); diff != "" {
				t.Errorf("item ids (-want +got):\n%s", diff)
			}
			if snap.HasMore {
				t.Error("expected hasMore to be false")
			}
			if s := snap.State(); s != model.StateComplete {
				t.Errorf("expected complete, got %s", s)
			}
			if snap.Collection.Length != 120 || snap.Collection.Title != "Collection a" {
				t.Errorf("unexpected metadata %+v", snap.Collection)
			}
			if len(snap.Items) != 120 {
				t.Errorf("expected 120 resolved items, got %d", len(snap.Items))
			}
			checkCalls(t, f.api, c.calls)
		})
	}
}

func TestPaginationTermination(t *testing.T) {
	cases := []struct {
		name     string
		items    int
		hint     int
		noLength bool
		pages    []int
		unasked  string
	}{
		{name: "short page without hint", items: 70, noLength: true, pages: []int{1, 2}, unasked: "contents:a:3:50"},
		{name: "exact multiple without hint", items: 100, noLength: true, pages: []int{1, 2, 3}, unasked: "contents:a:4:50"},
		{name: "hint outlives short pages", items: 60, hint: 120, pages: []int{1, 2, 3}, unasked: "contents:a:4:50"},
		{name: "empty collection", items: 0, noLength: true, pages: []int{1}, unasked: "contents:a:2:50"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, Config{PageSize: 50})
			fc := f.api.addCollection("a", 1, textItems(1, c.items))
			fc.hint, fc.noLength = c.hint, c.noLength

			snap := f.sync(t, "a", SyncOptions{})
			if diff := cmp.Diff(c.pages, snap.FetchedPages); diff != "" {
				t.Errorf("fetched pages (-want +got):\n%s", diff)
			}
			if snap.HasMore {
				t.Error("expected hasMore to be false")
			}
			if len(snap.ItemIDs) != c.items {
				t.Errorf("expected %d items, got %d", c.items, len(snap.ItemIDs))
			}
			checkCalls(t, f.api, map[string]int{c.unasked: 0})
		})
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50, BoostSize: 5})
	f.api.addCollection("a", 1, textItems(1, 120))

	first := f.sync(t, "a", SyncOptions{})
	second := f.sync(t, "a", SyncOptions{})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second sync changed the snapshot (-first +second):\n%s", diff)
	}
	checkCalls(t, f.api, map[string]int{"contents:a:1:5": 1, "contents:a:1:50": 1, "contents:a:2:50": 1, "contents:a:3:50": 1, "meta:a": 1})
}

func TestConcurrentCallersShareRequests(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50, BoostSize: 5})
	f.api.addCollection("a", 1, textItems(1, 120))
	f.api.setDelay(10 * time.Millisecond)

	var wg sync.WaitGroup
	snaps := make([]Snapshot, 8)
	for i := range snaps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.engine.SyncCollection(ctx, "a", SyncOptions{})
			if err != nil {
				t.Error(err)
			}
			snaps[i] = snap
		}()
	}
	wg.Wait()

	checkCalls(t, f.api, map[string]int{"contents:a:1:5": 1, "contents:a:1:50": 1, "contents:a:2:50": 1, "contents:a:3:50": 1, "meta:a": 1})
	for i, snap := range snaps {
		if diff := cmp.Diff(seq(1, 120), snap.ItemIDs); diff != "" {
			t.Errorf("caller %d item ids (-want +got):\n%s", i, diff)
		}
	}
}

func TestSharedItemMeasuredOnce(t *testing.T) {
	cases := []struct {
		name       string
		concurrent bool
	}{
		{name: "one after another"},
		{name: "at the same time", concurrent: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, Config{PageSize: 10})
			f.loader.delay = 20 * time.Millisecond
			f.api.addCollection("a", 1, append(textItems(1, 3), imageItem(777, "https://img/a.jpg")))
			f.api.addCollection("b", 2, append(textItems(100, 3), imageItem(777, "https://img/b.jpg")))

			var snaps [2]Snapshot
			if c.concurrent {
				var wg sync.WaitGroup
				for i, slug := range []string{"a", "b"} {
					wg.Add(1)
					go func() {
						defer wg.Done()
						snap, err := f.engine.SyncCollection(ctx, slug, SyncOptions{})
						if err != nil {
							t.Error(err)
						}
						snaps[i] = snap
					}()
				}
				wg.Wait()
			} else {
				snaps[0] = f.sync(t, "a", SyncOptions{})
				snaps[1] = f.sync(t, "b", SyncOptions{})
			}

			if n := f.loader.total(); n != 1 {
				t.Errorf("expected one image load, got %d", n)
			}
			for i, snap := range snaps {
				if snap.ItemIDs[len(snap.ItemIDs)-1] != 777 {
					t.Errorf("collection %d does not reference item 777: %v", i, snap.ItemIDs)
				}
			}
			got, err := f.engine.Item(ctx, 777)
			if err != nil {
				t.Fatal(err)
			}
			it, ok := got.Get()
			if !ok {
				t.Fatalf("item 777 not registered: %s", got.State)
			}
			if it.Aspect.Ratio != 1.5 || !it.Aspect.Measured() {
				t.Errorf("unexpected aspect %+v", it.Aspect)
			}
		})
	}
}

func TestSharedItemMeasuredOnceBehindSlowImage(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10})
	f.loader.delays = map[string]time.Duration{
		"https://img/a.jpg":    5 * time.Millisecond,
		"https://img/slow.jpg": 300 * time.Millisecond,
	}
	f.api.addCollection("a", 1, []remote.RawItem{imageItem(777, "https://img/a.jpg"), imageItem(778, "https://img/slow.jpg")})
	f.api.addCollection("b", 2, []remote.RawItem{imageItem(777, "https://img/b.jpg")})

	// b syncs while a's page still waits for its slow image, after 777 has
	// been measured but before a's page reached the registry.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := f.engine.SyncCollection(ctx, "a", SyncOptions{}); err != nil {
			t.Error(err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	snap := f.sync(t, "b", SyncOptions{})
	wg.Wait()

	if n := f.loader.count("https://img/a.jpg", "https://img/b.jpg"); n != 1 {
		t.Errorf("expected item 777 to be measured once, got %d loads", n)
	}
	if it := snap.Items[0]; it.Aspect.Ratio != 1.5 || !it.Aspect.Measured() {
		t.Errorf("unexpected aspect for 777 in b: %+v", it.Aspect)
	}
}

func TestPageFailureIsRecordedAndResumed(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	f.api.addCollection("a", 1, textItems(1, 120))
	f.api.setFail("contents:a:2:50", &remote.HTTPError{StatusCode: 500, Status: "500 Internal Server Error", URL: "/contents"})

	snap := f.sync(t, "a", SyncOptions{})
	if s := snap.State(); s != model.StateError {
		t.Errorf("expected error state, got %s", s)
	}
	if !strings.Contains(snap.Error, "500 Internal Server Error") {
		t.Errorf("unexpected recorded error %q", snap.Error)
	}
	if diff := cmp.Diff([]int{1}, snap.FetchedPages); diff != "" {
		t.Errorf("fetched pages (-want +got):\n%s", diff)
	}
	if !snap.HasMore {
		t.Error("hasMore must keep its last value after a failure")
	}

	f.api.setFail("contents:a:2:50", nil)
	snap = f.sync(t, "a", SyncOptions{})
	if snap.Error != "" || snap.State() != model.StateComplete {
		t.Errorf("expected a clean complete collection, got %s %q", snap.State(), snap.Error)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, snap.FetchedPages); diff != "" {
		t.Errorf("fetched pages (-want +got):\n%s", diff)
	}
	checkCalls(t, f.api, map[string]int{"contents:a:1:50": 1, "contents:a:2:50": 2, "contents:a:3:50": 1})
}

func TestRecordedErrorIsTruncated(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	f.api.addCollection("a", 1, textItems(1, 10))
	f.api.setFail("contents:a:1:50", errors.New(strings.Repeat("x", 500)))

	snap := f.sync(t, "a", SyncOptions{})
	if len(snap.Error) != maxErrorLen {
		t.Errorf("expected a %d character error, got %d", maxErrorLen, len(snap.Error))
	}
}

func TestCancellationStopsBetweenPages(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	f.api.addCollection("a", 1, textItems(1, 120))

	c, cancel := context.WithCancel(ctx)
	defer cancel()
	f.api.setOnCall(func(key string) {
		if key == "contents:a:2:50" {
			cancel()
		}
	})
	snap, err := f.engine.SyncCollection(c, "a", SyncOptions{})
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if snap.Error != "" {
		t.Errorf("cancellation recorded an error: %q", snap.Error)
	}
	if diff := cmp.Diff([]int{1}, snap.FetchedPages); diff != "" {
		t.Errorf("fetched pages (-want +got):\n%s", diff)
	}
	if s := snap.State(); s != model.StatePartial {
		t.Errorf("expected partial, got %s", s)
	}

	// A restarted process resumes from the stored bookkeeping.
	f.api.setOnCall(nil)
	f.engine = f.newEngine(Config{PageSize: 50})
	snap = f.sync(t, "a", SyncOptions{})
	if diff := cmp.Diff([]int{1, 2, 3}, snap.FetchedPages); diff != "" {
		t.Errorf("fetched pages (-want +got):\n%s", diff)
	}
	checkCalls(t, f.api, map[string]int{"contents:a:1:50": 1, "contents:a:2:50": 2, "contents:a:3:50": 1})
}

func TestForceRefreshKeepsItems(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	items := append([]remote.RawItem{imageItem(1, "https://img/1.jpg"), imageItem(2, "https://img/2.jpg")}, textItems(3, 58)...)
	f.api.addCollection("a", 1, items)
	f.api.setFail("contents:a:2:50", &remote.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"})

	if snap := f.sync(t, "a", SyncOptions{}); snap.State() != model.StateError {
		t.Fatalf("expected error state, got %s", snap.State())
	}
	f.api.setFail("contents:a:2:50", nil)

	snap := f.sync(t, "a", SyncOptions{Force: true})
	if snap.Error != "" || snap.State() != model.StateComplete {
		t.Errorf("expected a clean complete collection, got %s %q", snap.State(), snap.Error)
	}
	if diff := cmp.Diff(seq(1, 60), snap.ItemIDs); diff != "" {
		t.Errorf("item ids (-want +got):\n%s", diff)
	}
	if n := f.loader.total(); n != 2 {
		t.Errorf("expected images to be measured once, got %d loads", n)
	}
	checkCalls(t, f.api, map[string]int{"contents:a:1:50": 2, "meta:a": 2})
}

func TestForceDuringRunningPass(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	f.api.addCollection("a", 1, textItems(1, 120))

	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	f.api.setOnCall(func(key string) {
		if key == "contents:a:2:50" {
			once.Do(func() {
				close(started)
				<-release
			})
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := f.engine.SyncCollection(ctx, "a", SyncOptions{}); err != nil {
			t.Error(err)
		}
	}()
	<-started
	var forced Snapshot
	go func() {
		defer wg.Done()
		snap, err := f.engine.SyncCollection(ctx, "a", SyncOptions{Force: true})
		if err != nil {
			t.Error(err)
		}
		forced = snap
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// The forced call started over once the unforced pass it met had finished.
	checkCalls(t, f.api, map[string]int{"meta:a": 2, "contents:a:1:50": 2, "contents:a:2:50": 2, "contents:a:3:50": 2})
	if forced.State() != model.StateComplete || len(forced.ItemIDs) != 120 {
		t.Errorf("unexpected snapshot after force: %s with %d items", forced.State(), len(forced.ItemIDs))
	}
}

func TestStaleCollectionStartsOver(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50, MaxAge: 12 * time.Hour})
	f.api.addCollection("a", 1, append([]remote.RawItem{imageItem(1, "https://img/1.jpg")}, textItems(2, 69)...))
	f.sync(t, "a", SyncOptions{})

	f.clock.Advance(time.Hour)
	f.sync(t, "a", SyncOptions{})
	checkCalls(t, f.api, map[string]int{"contents:a:1:50": 1, "meta:a": 1})

	f.clock.Advance(13 * time.Hour)
	snap := f.sync(t, "a", SyncOptions{})
	checkCalls(t, f.api, map[string]int{"contents:a:1:50": 2, "contents:a:2:50": 2, "meta:a": 2})
	if len(snap.ItemIDs) != 70 {
		t.Errorf("expected 70 items, got %d", len(snap.ItemIDs))
	}
	if n := f.loader.total(); n != 1 {
		t.Errorf("expected the image to keep its measurement, got %d loads", n)
	}
}

func TestFirstMetadataFailureIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAPI(ctrl)
	api.EXPECT().Collection(gomock.Any(), "locked").Return(remote.RawCollection{}, remote.ErrAuthRequired)
	api.EXPECT().Contents(gomock.Any(), "locked", 1, 5).Return(remote.ContentsPage{}, remote.ErrAuthRequired)

	store := database.NewMemory()
	engine := New(api, store, registry.New(store), measure.NewBatcher(&countingLoader{}, measure.Config{}), Config{PageSize: 50, BoostSize: 5})
	snap, err := engine.SyncCollection(ctx, "locked", SyncOptions{})
	if !errors.Is(err, remote.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if s := snap.State(); s != model.StateError {
		t.Errorf("expected error state, got %s", s)
	}
}

func TestMetadataFailureKeepsContent(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50})
	f.api.addCollection("a", 1, textItems(1, 120))
	f.sync(t, "a", SyncOptions{})

	f.clock.Advance(13 * time.Hour)
	f.api.setFail("meta:a", &remote.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"})
	snap, err := f.engine.SyncCollection(ctx, "a", SyncOptions{})
	if err != nil {
		t.Fatalf("metadata failure with prior data must not fail the sync: %v", err)
	}
	if !strings.Contains(snap.Error, "metadata") {
		t.Errorf("expected the metadata failure to be recorded, got %q", snap.Error)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, snap.FetchedPages); diff != "" {
		t.Errorf("fetched pages (-want +got):\n%s", diff)
	}
	if snap.Collection.Title != "Collection a" {
		t.Errorf("previous metadata lost: %+v", snap.Collection)
	}
}

func TestNotLoadedValuesAreAbsent(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10})
	f.api.addCollection("a", 1, []remote.RawItem{imageItem(5, "https://img/5.jpg")})
	f.api.addCollection("b", 2, []remote.RawItem{imageItem(5, "https://img/5.jpg")})
	f.sync(t, "a", SyncOptions{})

	f.store.Unload(registry.ItemsContainer, "5")
	got, err := f.engine.Item(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.NotLoaded {
		t.Fatalf("expected not loaded, got %s", got.State)
	}

	// A restarted process has nothing but the store to go on.
	f.engine = f.newEngine(Config{PageSize: 10})
	f.sync(t, "b", SyncOptions{})
	if n := f.loader.total(); n != 2 {
		t.Errorf("a not loaded entry must not count as measured: %d loads", n)
	}
	if got, _ = f.engine.Item(ctx, 5); got.State != model.Loaded {
		t.Errorf("expected the entry to be written back, got %s", got.State)
	}

	// Collection fields not loaded yet make a restarted engine start over.
	f.store.Unload(collectionContainer("a"), fieldLastFetched)
	f.engine = f.newEngine(Config{PageSize: 10})
	snap := f.sync(t, "a", SyncOptions{})
	checkCalls(t, f.api, map[string]int{"contents:a:1:10": 2})
	if diff := cmp.Diff([]int64{5}, snap.ItemIDs); diff != "" {
		t.Errorf("item ids (-want +got):\n%s", diff)
	}
}

func TestEmptySlugIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.engine.SyncCollection(ctx, "  ", SyncOptions{}); err == nil {
		t.Error("expected an error for an empty slug")
	}
}
