package device

// Ring is a fixed-capacity ring buffer preserving insertion order.
//
// When full, Push evicts the oldest entry and returns it so callers can
// flush displaced entries to the store before they are forgotten.
//
// Ring is not safe for concurrent use; the owning Device's mutex guards
// all access.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest entry
	size  int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an entry, evicting the oldest if the ring is full.
//
// Parameters:
//   - item: The entry to append
//
// Returns:
//   - T: The evicted entry (zero value if none)
//   - bool: Whether an eviction occurred
func (r *Ring[T]) Push(item T) (T, bool) {
	var evicted T

	if r.size == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = item
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}

	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
	return evicted, false
}

// Newest returns the most recently pushed entry.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Len returns the number of entries currently held.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Snapshot returns the entries newest-first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	for i := r.size - 1; i >= 0; i-- {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}

// Oldest returns the entries oldest-first.
func (r *Ring[T]) Oldest() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}
