package database

import (
	"bytes"
	"context"
	"sync"

	"github.com/bryan-buckman/chanmirror/internal/model"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]map[string][]byte
	lists    map[ListHandle][][]byte
	owners   map[ListHandle]string
	nextList ListHandle
	unloaded map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]map[string][]byte),
		lists:    make(map[ListHandle][][]byte),
		owners:   make(map[ListHandle]string),
		unloaded: make(map[string]bool),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) DatabaseType() string { return "memory" }

func (m *MemoryStore) SupportsHighConcurrency() bool { return true }

func unloadedKey(container, key string) string {
	return container + "\x00" + key
}

// Unload marks a value as present but not yet loaded, the way a lazily
// synchronised backend reports it. The next Set loads it again.
func (m *MemoryStore) Unload(container, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloaded[unloadedKey(container, key)] = true
}

func (m *MemoryStore) Get(ctx context.Context, container, key string) (model.Lookup[[]byte], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unloaded[unloadedKey(container, key)] {
		return model.Pending[[]byte](), nil
	}
	v, ok := m.values[container][key]
	if !ok {
		return model.Missing[[]byte](), nil
	}
	return model.Found(bytes.Clone(v)), nil
}

func (m *MemoryStore) Set(ctx context.Context, container, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.values[container]
	if !ok {
		c = make(map[string][]byte)
		m.values[container] = c
	}
	c[key] = bytes.Clone(value)
	delete(m.unloaded, unloadedKey(container, key))
	return nil
}

func (m *MemoryStore) CreateList(ctx context.Context, owner string) (ListHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextList++
	m.lists[m.nextList] = nil
	m.owners[m.nextList] = owner
	return m.nextList, nil
}

func (m *MemoryStore) List(ctx context.Context, list ListHandle) (model.Lookup[[][]byte], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.lists[list]
	if !ok {
		return model.Missing[[][]byte](), nil
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = bytes.Clone(e)
	}
	return model.Found(out), nil
}

func (m *MemoryStore) Append(ctx context.Context, list ListHandle, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.lists[list]
	if !ok {
		return ErrNoList
	}
	for _, v := range values {
		entries = append(entries, bytes.Clone(v))
	}
	m.lists[list] = entries
	return nil
}

func (m *MemoryStore) Splice(ctx context.Context, list ListHandle, start, deleteCount int, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.lists[list]
	if !ok {
		return ErrNoList
	}
	cloned := make([][]byte, len(values))
	for i, v := range values {
		cloned[i] = bytes.Clone(v)
	}
	m.lists[list] = splice(entries, start, deleteCount, cloned...)
	return nil
}
