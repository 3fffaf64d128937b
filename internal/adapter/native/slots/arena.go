// Package slots provides the index arena backing a native function table.
//
// Every Acquire hands out an integer index that stays valid until Release.
// Indexes are recycled, so a released index may be handed out again.
package slots

import (
	"fmt"
	"sync"

	"sqlite-glue/internal/domain"
)

type entry[T any] struct {
	value T
	used  bool
}

// Arena is a fixed-capacity set of slots keyed by index.
type Arena[T any] struct {
	mu       sync.Mutex
	entries  []entry[T]
	free     []int
	capacity int
	used     int
}

// New creates an arena holding at most capacity entries. A capacity of zero
// yields an arena on which every Acquire fails.
func New[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena[T]{capacity: capacity}
}

// Acquire stores v in a free slot and returns its index.
func (a *Arena[T]) Acquire(v T) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.entries[idx] = entry[T]{value: v, used: true}
		a.used++
		return idx, nil
	}
	if len(a.entries) >= a.capacity {
		return -1, fmt.Errorf("%w: capacity %d reached", domain.ErrSlotExhausted, a.capacity)
	}
	a.entries = append(a.entries, entry[T]{value: v, used: true})
	a.used++
	return len(a.entries) - 1, nil
}

// Release frees the slot at idx and returns the value it held.
// Releasing an unused or out-of-range index reports false and changes nothing.
func (a *Arena[T]) Release(idx int) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if idx < 0 || idx >= len(a.entries) || !a.entries[idx].used {
		return zero, false
	}
	v := a.entries[idx].value
	a.entries[idx] = entry[T]{}
	a.free = append(a.free, idx)
	a.used--
	return v, true
}

// Get returns the value stored at idx.
func (a *Arena[T]) Get(idx int) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if idx < 0 || idx >= len(a.entries) || !a.entries[idx].used {
		return zero, false
	}
	return a.entries[idx].value, true
}

// Len reports the number of occupied slots.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Cap reports the arena capacity.
func (a *Arena[T]) Cap() int {
	return a.capacity
}
