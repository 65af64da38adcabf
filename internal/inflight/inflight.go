// Package inflight collapses concurrent identical requests into one execution.
package inflight

import (
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Key builds a composite ticket key from a resource kind, its key and optional
// page or sub-resource parts. Each kind is its own namespace.
func Key(kind, key string, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('\x00')
	b.WriteString(key)
	for _, p := range parts {
		b.WriteByte('\x00')
		b.WriteString(p)
	}
	return b.String()
}

// Group runs at most one task per key at a time. Callers arriving while a task
// for their key is running wait for it and receive the same result or error.
// The ticket is dropped when the task returns, so a later call starts afresh.
type Group[T any] struct {
	g       singleflight.Group
	running atomic.Int64
	runs    atomic.Int64
}

// Do runs fn under key. shared is true when the result was handed to more than
// one caller. fn runs with whatever context the first caller captured in it.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := g.g.Do(key, func() (any, error) {
		g.running.Add(1)
		g.runs.Add(1)
		defer g.running.Add(-1)
		return fn()
	})
	if res != nil {
		v = res.(T)
	}
	return v, shared, err
}

// Forget drops the ticket for key so the next Do starts a new execution even if
// one is still running.
func (g *Group[T]) Forget(key string) {
	g.g.Forget(key)
}

// Running returns the number of executions currently in progress.
func (g *Group[T]) Running() int {
	return int(g.running.Load())
}

// Runs returns how many executions have been started in total.
func (g *Group[T]) Runs() int {
	return int(g.runs.Load())
}
