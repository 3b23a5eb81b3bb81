// Package mailbox provides the bounded single-slot handoff queue used
// between every pair of pipeline stages.
//
// Architecture:
//   - Single-slot buffer: capacity is exactly one record.
//   - Overwrite policy (Put): a full slot is evicted non-blockingly, so a
//     producer is never back-pressured and the consumer always sees the
//     newest record. Recency over completeness.
//   - Bounded-block policy (Offer): the producer waits up to a short
//     timeout for the slot to free, then gives up and retries next cycle.
//     Used where a consumer deliberately throttles its producer.
//   - Blocking consume with timeout (Get): lets a consumer detect a stalled
//     producer and recover instead of hanging forever.
//   - Non-consuming Peek for read-only external monitors.
//
// All waiting is condition-variable based; there are no polling loops.
package mailbox

import (
	"sync"
	"time"
)

// Mailbox is a single-slot overwrite-on-full handoff queue.
// Safe for concurrent use by any number of producers and consumers, though
// the pipeline wires exactly one of each per box.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	val    T
	full   bool
	closed bool

	puts  uint64 // successful inserts (Put + accepted Offer)
	takes uint64 // successful Get consumes
	drops uint64 // records evicted unconsumed by Put
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	// Puts counts successful inserts.
	Puts uint64
	// Takes counts successful consumes.
	Takes uint64
	// Drops counts records overwritten before any consumer took them.
	// A persistently climbing value means the consumer is falling behind,
	// which is the intended steady state for preview taps.
	Drops uint64
}

// New returns an empty open mailbox.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put inserts v, evicting any unconsumed record. Never blocks. Inserting
// into a closed mailbox is a silent no-op.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.full {
		m.drops++
	}
	m.val = v
	m.full = true
	m.puts++
	m.cond.Broadcast()
}

// Offer inserts v only if the slot frees within timeout. Returns false if
// the slot stayed full or the mailbox closed; the caller is expected to
// sleep out the rest of its cycle rather than retry immediately.
func (m *Mailbox[T]) Offer(v T, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.full && !m.closed {
		if !m.waitUntil(deadline) {
			return false
		}
	}
	if m.closed {
		return false
	}
	m.val = v
	m.full = true
	m.puts++
	m.cond.Broadcast()
	return true
}

// Get consumes the current record, blocking up to timeout for one to
// arrive. ok is false on timeout or close.
func (m *Mailbox[T]) Get(timeout time.Duration) (v T, ok bool) {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full {
		if m.closed {
			return v, false
		}
		if !m.waitUntil(deadline) {
			return v, false
		}
	}
	v = m.val
	var zero T
	m.val = zero
	m.full = false
	m.takes++
	m.cond.Broadcast()
	return v, true
}

// Peek returns the current record without consuming it. ok is false when
// the slot is empty. Intended for read-only monitors; the record must be
// treated as immutable.
func (m *Mailbox[T]) Peek() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return v, false
	}
	return m.val, true
}

// Close wakes all waiters and rejects further inserts. Idempotent. A
// record already in the slot may still be drained by one final Get; after
// that, Get returns false immediately.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cond.Broadcast()
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Puts: m.puts, Takes: m.takes, Drops: m.drops}
}

// waitUntil blocks on the condition variable until a broadcast or the
// deadline. Returns false once the deadline has passed. sync.Cond has no
// timed wait, so a one-shot timer broadcasts to force a re-check; every
// waiter re-evaluates its own predicate after any wake.
func (m *Mailbox[T]) waitUntil(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	t := time.AfterFunc(remaining, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	t.Stop()
	return time.Now().Before(deadline)
}
