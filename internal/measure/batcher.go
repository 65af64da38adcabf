// Package measure resolves the aspect ratio of items, loading images through a
// bounded pool of workers only when nothing cheaper is known.
package measure

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/inflight"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 8 * time.Second
)

// recentSize bounds how many completed measurements are remembered. They cover
// the time between a load finishing and its batch reaching the registry.
const recentSize = 4096

// ImageLoader reads the natural dimensions of an image.
type ImageLoader interface {
	Dimensions(ctx context.Context, url string) (width, height int, err error)
}

// Config configures a Batcher.
type Config struct {
	// Concurrency is the number of workers. Zero or less runs every item at once.
	Concurrency int
	// Timeout bounds a single image load.
	Timeout time.Duration
}

// Batcher measures items in batches. Loads for the same item id running in
// different batches at the same time are shared.
type Batcher struct {
	loader      ImageLoader
	concurrency int
	timeout     time.Duration
	tickets     inflight.Group[model.Aspect]
	loads       atomic.Int64

	mu     sync.Mutex
	recent map[int64]model.Aspect
	order  []int64
}

// NewBatcher creates a batcher. A zero Config uses the defaults.
func NewBatcher(loader ImageLoader, cfg Config) *Batcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Batcher{
		loader:      loader,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		recent:      make(map[int64]model.Aspect),
	}
}

// Loads returns the number of image loads issued so far.
func (b *Batcher) Loads() int {
	return int(b.loads.Load())
}

// MeasureBatch returns copies of items with their aspect resolved. existing
// holds aspects already known for some ids; those are reused as is. Items left
// unmeasured because ctx ended keep their zero aspect.
func (b *Batcher) MeasureBatch(ctx context.Context, items []model.Item, existing map[int64]model.Aspect) []model.Item {
	out := make([]model.Item, len(items))
	copy(out, items)
	if len(out) == 0 {
		return out
	}

	width := b.concurrency
	if width <= 0 || width > len(out) {
		width = len(out)
	}

	var cursor atomic.Int64
	var g errgroup.Group
	for w := 0; w < width; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(out) {
					return nil
				}
				if ctx.Err() != nil {
					continue
				}
				if a, ok := b.aspect(ctx, out[i], existing); ok {
					out[i].Aspect = a
				}
			}
		})
	}
	g.Wait()
	return out
}

// aspect resolves the aspect of one item. ok is false when ctx ended first.
func (b *Batcher) aspect(ctx context.Context, it model.Item, existing map[int64]model.Aspect) (model.Aspect, bool) {
	if a, ok := existing[it.ID]; ok && a.Measured() {
		return a, true
	}
	if it.Aspect.Measured() {
		return it.Aspect, true
	}
	if !it.Type.NeedsMeasurement() {
		return model.Aspect{Ratio: model.DefaultAspect, Source: model.AspectMeasured, Quality: model.QualityFixed}, true
	}
	if it.HasEmbedSize() {
		return model.Aspect{
			Ratio:   float64(it.EmbedWidth) / float64(it.EmbedHeight),
			Source:  model.AspectMeasured,
			Quality: model.QualityEmbed,
		}, true
	}
	url, quality := it.Media.Best()
	if url == "" {
		return fallback(""), true
	}

	if a, ok := b.remembered(it.ID); ok {
		return a, true
	}
	a, _, err := b.tickets.Do(inflight.Key("aspect", strconv.FormatInt(it.ID, 10)), func() (model.Aspect, error) {
		// A load for this id may have finished since the check above.
		if a, ok := b.remembered(it.ID); ok {
			return a, nil
		}
		a, err := b.load(ctx, url, quality)
		if err == nil {
			b.remember(it.ID, a)
		}
		return a, err
	})
	if err != nil {
		// Only cancellation surfaces as an error; leave the item unmeasured.
		return model.Aspect{}, false
	}
	return a, true
}

func (b *Batcher) load(ctx context.Context, url string, quality model.Quality) (model.Aspect, error) {
	b.loads.Add(1)
	loadCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	w, h, err := b.loader.Dimensions(loadCtx, url)
	if ctx.Err() != nil {
		return model.Aspect{}, ctx.Err()
	}
	if err != nil || w <= 0 || h <= 0 {
		log.Debug().Err(err).Str("url", url).Msg("image measurement failed, using default aspect")
		return fallback(url), nil
	}
	return model.Aspect{
		Ratio:   float64(w) / float64(h),
		Source:  model.AspectMeasured,
		Quality: quality,
		URL:     url,
	}, nil
}

func (b *Batcher) remembered(id int64) (model.Aspect, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.recent[id]
	return a, ok
}

// remember records a completed measurement, evicting the oldest past recentSize.
func (b *Batcher) remember(id int64, a model.Aspect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recent[id]; !ok {
		b.order = append(b.order, id)
	}
	b.recent[id] = a
	for len(b.order) > recentSize {
		delete(b.recent, b.order[0])
		b.order = b.order[1:]
	}
}

func fallback(url string) model.Aspect {
	return model.Aspect{Ratio: model.DefaultAspect, Source: model.AspectMeasured, Quality: model.QualityFallback, URL: url}
}
