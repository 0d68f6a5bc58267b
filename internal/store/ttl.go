// Package store provides the two TTL-indexed stores behind the
// admission engine: last-known signals per chart timeframe and phase
// readings per (role, event timeframe) slot. Both share one generic
// core whose put/get/sweep operations take an explicit clock, so tests
// drive expiry without timers; the background sweeper is only an
// optimization on top.
package store

import (
	"sync"
	"time"
)

// Entry is one stored record. Priority decides replacement: an
// unexpired incumbent is only displaced by a strictly higher priority.
type Entry[K comparable, P any] struct {
	Key       K
	Payload   P
	Priority  int64
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is dead at the given instant. The
// boundary is exclusive: at exactly ExpiresAt the entry is gone.
func (e Entry[K, P]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero if none.
func (e Entry[K, P]) Remaining(now time.Time) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// TTLStore is a mutex-protected map of entries with priority-gated
// replacement and lazy expiry. Readers always re-check expiry against
// the caller's clock; the sweeper merely reclaims memory.
type TTLStore[K comparable, P any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[K, P]

	sweepMu  sync.Mutex
	stop     chan struct{}
	sweeping bool
}

// NewTTLStore builds an empty store. The sweeper is not started; the
// composition root owns that lifecycle.
func NewTTLStore[K comparable, P any]() *TTLStore[K, P] {
	return &TTLStore[K, P]{entries: make(map[K]Entry[K, P])}
}

// Put inserts e unless a live incumbent with equal or higher priority
// holds the key. It returns the entry now stored under the key and
// whether that entry is e. An expired incumbent always loses.
func (s *TTLStore[K, P]) Put(e Entry[K, P], now time.Time) (Entry[K, P], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[e.Key]; ok && !cur.Expired(now) && e.Priority <= cur.Priority {
		return cur, false
	}
	s.entries[e.Key] = e
	return e, true
}

// Get returns the live entry for key, if any.
func (s *TTLStore[K, P]) Get(key K, now time.Time) (Entry[K, P], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		var zero Entry[K, P]
		return zero, false
	}
	return e, true
}

// GetAllActive snapshots every live entry. Order is unspecified;
// callers that need determinism sort the result.
func (s *TTLStore[K, P]) GetAllActive(now time.Time) []Entry[K, P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry[K, P], 0, len(s.entries))
	for _, e := range s.entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

// Remaining returns milliseconds worth of life left for key, zero when
// absent or expired.
func (s *TTLStore[K, P]) Remaining(key K, now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return 0
	}
	return e.Remaining(now)
}

// Sweep removes every expired entry and reports how many it reclaimed.
// Idempotent for a fixed clock.
func (s *TTLStore[K, P]) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Clear empties the store.
func (s *TTLStore[K, P]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]Entry[K, P])
}

// Len counts stored entries, expired ones included.
func (s *TTLStore[K, P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartSweeper launches the periodic reclaim goroutine. Calling it on
// a running store is a no-op.
func (s *TTLStore[K, P]) StartSweeper(interval time.Duration) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweeping {
		return
	}
	s.sweeping = true
	s.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-stop:
				return
			}
		}
	}(s.stop)
}

// StopSweeper halts the reclaim goroutine. Safe to call repeatedly.
func (s *TTLStore[K, P]) StopSweeper() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if !s.sweeping {
		return
	}
	close(s.stop)
	s.sweeping = false
}
