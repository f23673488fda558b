// Package session provides the scaffolding shared by the feature session
// consumers: a bounded ring buffer for message retention and the
// manager/router wiring every consumer repeats.
package session

import "sync"

// Ring is a thread-safe fixed-capacity ring buffer. Appends go to the
// tail; once full, the oldest entry is evicted. Prepends model paginated
// history: the combined sequence keeps only the most recent entries, so
// the trim also falls on the oldest side.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest element
	count    int
	capacity int

	appended int64
	evicted  int64
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an item at the tail, evicting the oldest entry when full.
// Returns true if an eviction happened.
func (r *Ring[T]) Append(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evict := r.count == r.capacity
	if evict {
		// Full: the tail slot is the head slot. Overwrite and advance.
		r.buf[r.head] = item
		r.head = (r.head + 1) % r.capacity
		r.evicted++
	} else {
		r.buf[(r.head+r.count)%r.capacity] = item
		r.count++
	}
	r.appended++
	return evict
}

// Prepend inserts items before the current contents, preserving their
// order. When the combined length exceeds capacity, the oldest entries
// (the front of the prepended page) are trimmed.
func (r *Ring[T]) Prepend(items []T) {
	if len(items) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	combined := make([]T, 0, len(items)+r.count)
	combined = append(combined, items...)
	combined = append(combined, r.itemsLocked()...)
	if len(combined) > r.capacity {
		r.evicted += int64(len(combined) - r.capacity)
		combined = combined[len(combined)-r.capacity:]
	}

	r.buf = make([]T, r.capacity)
	copy(r.buf, combined)
	r.head = 0
	r.count = len(combined)
}

// Items returns the contents oldest-first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.itemsLocked()
}

func (r *Ring[T]) itemsLocked() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// RingStats contains retention counters.
type RingStats struct {
	Len      int
	Cap      int
	Appended int64
	Evicted  int64
}

// Stats returns retention counters.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Len:      r.count,
		Cap:      r.capacity,
		Appended: r.appended,
		Evicted:  r.evicted,
	}
}
