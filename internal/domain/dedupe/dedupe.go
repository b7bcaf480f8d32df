// Package dedupe provides idempotency tracking for presence event IDs.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen event IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen set, allowing it to be retried.
	// Use this when an event was marked seen but could not be handed off
	// (e.g. queue backpressure), so a redelivery is not dropped.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper tracks event IDs in a map. In bounded mode a ring of
// the insertion order backs oldest-first eviction; each live ID maps to
// exactly one ring slot, and Unrecord clears that slot so a later
// re-record of the same ID cannot be evicted through a stale slot.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id to ring slot; -1 when unbounded
	ring    []string       // insertion order, oldest at the write position
	next    int            // ring write position
	maxSize int            // 0 or negative means unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	slot := -1
	if d.maxSize > 0 {
		// The write position holds the oldest live entry once the ring
		// has wrapped; evict it. Unrecord leaves an empty slot behind.
		if old := d.ring[d.next]; old != "" {
			delete(d.seen, old)
			d.size.Add(-1)
		}
		d.ring[d.next] = id
		slot = d.next
		d.next = (d.next + 1) % d.maxSize
	}

	d.seen[id] = slot
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, exists := d.seen[id]
	if !exists {
		return
	}
	if slot >= 0 {
		d.ring[slot] = ""
	}
	delete(d.seen, id)
	d.size.Add(-1)
}

// Size returns the current number of live entries.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
