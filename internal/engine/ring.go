package engine

import (
	"sync"

	"github.com/sawpanic/tradegate/internal/domain"
)

// AuditRing keeps the most recent decisions in a fixed in-memory window
// for the recent-decisions endpoint. Durable persistence, when enabled,
// hangs off the sink list instead.
type AuditRing struct {
	mu      sync.RWMutex
	entries []domain.Decision
	next    int
	full    bool
}

// NewAuditRing creates a ring holding up to size decisions.
func NewAuditRing(size int) *AuditRing {
	if size <= 0 {
		size = 128
	}
	return &AuditRing{entries: make([]domain.Decision, size)}
}

// Add appends a decision, evicting the oldest once the ring wraps.
func (r *AuditRing) Add(d domain.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = d
	r.next = (r.next + 1) % len(r.entries)
	if !r.full && r.next == 0 {
		r.full = true
	}
}

// Recent returns up to n decisions, newest first.
func (r *AuditRing) Recent(n int) []domain.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.size()
	if n <= 0 || n > size {
		n = size
	}

	out := make([]domain.Decision, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len returns how many decisions the ring currently holds.
func (r *AuditRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size()
}

// size assumes the lock is held.
func (r *AuditRing) size() int {
	if r.full {
		return len(r.entries)
	}
	return r.next
}
