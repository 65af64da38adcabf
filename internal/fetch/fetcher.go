// Package fetch issues HTTP requests through one global pacing gate with retries.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Pacing and retry defaults, matching the remote service's published rate limit.
const (
	DefaultMinInterval    = 300 * time.Millisecond
	DefaultMaxConcurrency = 1
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 400 * time.Millisecond
	DefaultMaxDelay       = 8 * time.Second
	MaxRetryAfter         = 15 * time.Second
)

// maxBufferedBody bounds how much of a retried response is kept in memory.
const maxBufferedBody = 1 << 20

// limiter hands out a fixed number of request slots and enforces a minimum
// interval between request starts.
type limiter struct {
	slots     chan struct{}
	interval  time.Duration
	mu        sync.Mutex
	lastStart time.Time
}

func newLimiter(concurrency int, interval time.Duration) *limiter {
	return &limiter{
		slots:    make(chan struct{}, concurrency),
		interval: interval,
	}
}

// acquire blocks until a slot is free and the pacing interval has elapsed.
func (l *limiter) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		l.mu.Lock()
		wait := l.interval - time.Since(l.lastStart)
		if l.lastStart.IsZero() || wait <= 0 {
			l.lastStart = time.Now()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := sleepContext(ctx, wait); err != nil {
			<-l.slots
			return err
		}
	}
}

func (l *limiter) release() {
	<-l.slots
}

// Options tune a single Do call.
type Options struct {
	// Immediate bypasses the pacing gate. Reserved for latency sensitive lookups.
	Immediate bool
	// MaxRetries is the retry ceiling. Zero selects DefaultMaxRetries, a negative
	// value disables retries.
	MaxRetries int
}

// Config configures a Fetcher. Zero values select the defaults.
type Config struct {
	Client         *http.Client
	MinInterval    time.Duration
	MaxConcurrency int
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Fetcher is the process wide HTTP gate. Construct one per application and share it.
type Fetcher struct {
	client     *http.Client
	limiter    *limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New creates a fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	return &Fetcher{
		client:     cfg.Client,
		limiter:    newLimiter(cfg.MaxConcurrency, cfg.MinInterval),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
}

// Get is a shorthand for Do with a GET request.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return f.Do(ctx, req, opts)
}

// Do sends req, retrying network errors, 429, 403 and 5xx responses with
// exponential backoff. When retries run out the last response is returned
// with a nil error so callers can inspect its status; an error is returned only
// when no response was ever received or ctx was cancelled. Requests must be
// replayable (no body, or GetBody set).
func (f *Fetcher) Do(ctx context.Context, req *http.Request, opts Options) (*http.Response, error) {
	retries := opts.MaxRetries
	switch {
	case retries == 0:
		retries = f.maxRetries
	case retries < 0:
		retries = 0
	}
	b := f.newBackOff()
	url := req.URL.String()

	var last *http.Response
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		res, err := f.send(ctx, req, opts.Immediate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, ctxErr)
			}
			if attempt >= retries {
				if last != nil {
					return last, nil
				}
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			delay := f.clamp(b.NextBackOff())
			log.Debug().Err(err).Str("url", url).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying after network error")
			if err := sleepContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			continue
		}

		if !Retryable(res.StatusCode) || attempt >= retries {
			return res, nil
		}

		delay, ok := ParseRetryAfter(res.Header.Get("Retry-After"), time.Now())
		if !ok {
			delay = f.clamp(b.NextBackOff())
		}
		last, err = buffer(res)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		log.Debug().Str("url", url).Int("status", res.StatusCode).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying")
		if err := sleepContext(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
}

func (f *Fetcher) send(ctx context.Context, req *http.Request, immediate bool) (*http.Response, error) {
	if !immediate {
		if err := f.limiter.acquire(ctx); err != nil {
			return nil, err
		}
		defer f.limiter.release()
	}
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
	}
	return f.client.Do(attempt)
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.MaxInterval = f.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (f *Fetcher) clamp(d time.Duration) time.Duration {
	if d == backoff.Stop || d > f.maxDelay {
		return f.maxDelay
	}
	return d
}

// Retryable reports whether a response status is worth another attempt. The
// remote service answers some rate limiting with a plain 403.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden || status >= 500
}

// buffer reads and closes the body of res, replacing it with an in-memory copy
// so the response can still be handed to the caller after further attempts.
func buffer(res *http.Response) (*http.Response, error) {
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxBufferedBody))
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(data))
	return res, nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
