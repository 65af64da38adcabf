// Package database provides the storage backends the mirror writes through.
package database

import (
	"context"
	"errors"

	"github.com/bryan-buckman/chanmirror/internal/model"
)

// ErrNoList is returned when a list handle does not name an existing list.
var ErrNoList = errors.New("list does not exist")

// ListHandle identifies an ordered list created with CreateList.
type ListHandle int64

// Store defines the key/value and ordered-list operations the mirror needs.
// Memory, SQLite and PostgreSQL implementations satisfy this interface. Writes
// are readable by the same process as soon as the call returns.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend.
	DatabaseType() string

	// SupportsHighConcurrency returns true if the backend can handle
	// many concurrent write operations (e.g., PostgreSQL).
	SupportsHighConcurrency() bool

	// Get reads a value from a container. Containers are flat maps (the item
	// registry) or records whose keys are field names.
	Get(ctx context.Context, container, key string) (model.Lookup[[]byte], error)
	// Set writes a value into a container, replacing any previous one.
	Set(ctx context.Context, container, key string, value []byte) error

	// CreateList allocates a new empty ordered list. owner is informational.
	CreateList(ctx context.Context, owner string) (ListHandle, error)
	// List returns all entries of a list in order.
	List(ctx context.Context, list ListHandle) (model.Lookup[[][]byte], error)
	// Append adds values to the end of a list.
	Append(ctx context.Context, list ListHandle, values ...[]byte) error
	// Splice removes deleteCount entries at start and inserts values there.
	// Out of range arguments are clamped.
	Splice(ctx context.Context, list ListHandle, start, deleteCount int, values ...[]byte) error
}

// splice applies splice semantics to an in-memory slice.
func splice(cur [][]byte, start, deleteCount int, values ...[]byte) [][]byte {
	n := len(cur)
	if start < 0 {
		start = max(n+start, 0)
	}
	start = min(start, n)
	deleteCount = max(min(deleteCount, n-start), 0)

	out := make([][]byte, 0, n-deleteCount+len(values))
	out = append(out, cur[:start]...)
	out = append(out, values...)
	out = append(out, cur[start+deleteCount:]...)
	return out
}
