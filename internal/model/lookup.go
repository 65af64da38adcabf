package model

// LoadState distinguishes a value that is not loaded yet from one that does not exist.
type LoadState uint8

const (
	NotLoaded LoadState = iota
	Loaded
	Absent
)

func (s LoadState) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Absent:
		return "absent"
	}
	return "not-loaded"
}

// Lookup is the result of reading a value that may be lazily loaded.
type Lookup[T any] struct {
	State LoadState
	Value T
}

// Found wraps a loaded value.
func Found[T any](v T) Lookup[T] {
	return Lookup[T]{State: Loaded, Value: v}
}

// Missing is the result for a value known not to exist.
func Missing[T any]() Lookup[T] {
	return Lookup[T]{State: Absent}
}

// Pending is the result for a value that exists but has not been loaded yet.
func Pending[T any]() Lookup[T] {
	return Lookup[T]{State: NotLoaded}
}

// Get returns the value only when it is loaded. Callers must treat a false
// result as "absent", never as an empty value.
func (l Lookup[T]) Get() (T, bool) {
	if l.State != Loaded {
		var zero T
		return zero, false
	}
	return l.Value, true
}
