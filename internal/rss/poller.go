package rss

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/mirror"
	"github.com/rs/zerolog/log"
)

// MinPollInterval is the shortest allowed interval between watch list passes.
const MinPollInterval = time.Minute

// Concurrency settings
const (
	// MaxConcurrencyHigh is the number of collections synced in parallel on
	// stores that handle concurrent writes.
	MaxConcurrencyHigh = 10
	// MaxConcurrencySerial is used for SQLite (limited due to locking).
	MaxConcurrencySerial = 1

	passTimeout = 10 * time.Minute
)

// Feeds reports the newest item ids of a collection, newest first.
type Feeds interface {
	Latest(ctx context.Context, slug string) ([]int64, error)
}

// PollResult holds the result of polling a single collection.
type PollResult struct {
	Slug     string
	NewItems int
	Error    error
}

// Poller syncs every watched collection at a fixed interval.
type Poller struct {
	engine      *mirror.Engine
	feeds       Feeds
	interval    time.Duration
	concurrency int
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewPoller creates a background poller with concurrency based on the store.
// feeds may be nil, in which case only stale collections are refreshed.
func NewPoller(engine *mirror.Engine, feeds Feeds, interval time.Duration) *Poller {
	concurrency := MaxConcurrencySerial
	if engine.Store().SupportsHighConcurrency() {
		concurrency = MaxConcurrencyHigh
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{
		engine:      engine,
		feeds:       feeds,
		interval:    interval,
		concurrency: concurrency,
		stopChan:    make(chan struct{}),
	}
}

// Poll syncs one collection and returns how many items it gained. A collection
// that is not stale yet is refreshed from scratch only when its feed shows an
// item the mirror does not have.
func (p *Poller) Poll(ctx context.Context, slug string) (int, error) {
	before, err := p.engine.Collection(ctx, slug)
	if err != nil {
		return 0, err
	}
	var opts mirror.SyncOptions
	if p.feeds != nil && !p.engine.Stale(before) {
		ids, err := p.feeds.Latest(ctx, slug)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("collection", slug).Msg("feed check failed")
		case len(ids) > 0 && !slices.Contains(before.ItemIDs, ids[0]):
			log.Debug().Str("collection", slug).Int64("item", ids[0]).Msg("feed shows a new item, refreshing")
			opts.Force = true
		}
	}
	after, err := p.engine.SyncCollection(ctx, slug, opts)
	if err != nil {
		return 0, err
	}
	return added(before.ItemIDs, after.ItemIDs), nil
}

func added(before, after []int64) int {
	known := make(map[int64]struct{}, len(before))
	for _, id := range before {
		known[id] = struct{}{}
	}
	n := 0
	for _, id := range after {
		if _, ok := known[id]; !ok {
			n++
		}
	}
	return n
}

// RunOnce polls the whole watch list. Uses parallel workers when the store
// supports it, sequential otherwise. Returns a map of slug -> new item count.
func (p *Poller) RunOnce(ctx context.Context) (map[string]int, error) {
	slugs, err := p.engine.Watched(ctx)
	if err != nil {
		return nil, err
	}
	if len(slugs) == 0 {
		return make(map[string]int), nil
	}

	log.Info().Int("collections", len(slugs)).Int("concurrency", p.concurrency).Msg("polling watch list")
	if p.concurrency <= 1 {
		return p.pollSequential(ctx, slugs)
	}
	return p.pollParallel(ctx, slugs)
}

func (p *Poller) pollSequential(ctx context.Context, slugs []string) (map[string]int, error) {
	results := make(map[string]int)
	for i, slug := range slugs {
		select {
		case <-ctx.Done():
			log.Info().Int("done", i).Int("total", len(slugs)).Msg("poll cancelled")
			return results, ctx.Err()
		default:
		}

		count, err := p.Poll(ctx, slug)
		if err != nil {
			log.Warn().Err(err).Str("collection", slug).Msg("poll failed")
			continue
		}
		results[slug] = count
	}
	return results, nil
}

func (p *Poller) pollParallel(ctx context.Context, slugs []string) (map[string]int, error) {
	var wg sync.WaitGroup
	slugChan := make(chan string, len(slugs))
	resultChan := make(chan PollResult, len(slugs))

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slug := range slugChan {
				if ctx.Err() != nil {
					return
				}
				count, err := p.Poll(ctx, slug)
				resultChan <- PollResult{Slug: slug, NewItems: count, Error: err}
			}
		}()
	}

	for _, slug := range slugs {
		slugChan <- slug
	}
	close(slugChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make(map[string]int)
	for result := range resultChan {
		if result.Error != nil {
			log.Warn().Err(result.Error).Str("collection", result.Slug).Msg("poll failed")
			continue
		}
		results[result.Slug] = result.NewItems
	}
	return results, ctx.Err()
}

// Start begins the polling loop.
func (p *Poller) Start() {
	base, stop := context.WithCancel(context.Background())
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		go func() {
			// A running pass stops at the next page boundary.
			<-p.stopChan
			stop()
		}()
		for {
			ctx, cancel := context.WithTimeout(base, passTimeout)
			results, err := p.RunOnce(ctx)
			cancel()

			if err != nil {
				log.Error().Err(err).Msg("poller error")
			} else {
				total := 0
				for _, c := range results {
					total += c
				}
				log.Info().Int("new_items", total).Int("collections", len(results)).Msg("poll finished")
			}

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
