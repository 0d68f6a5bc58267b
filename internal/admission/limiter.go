// Package admission enforces the concurrent-request ceiling and tracks
// boundary anomalies per source. The ceiling is the system's only
// back-pressure mechanism: work is refused at the door, never queued.
package admission

import (
	"errors"
	"time"
)

// ErrSaturated is returned when the concurrent-request ceiling is
// reached. The boundary maps it to a throttling response carrying the
// retry hint.
var ErrSaturated = errors.New("admission ceiling reached")

// Limiter is a non-blocking counting semaphore over the decide path.
type Limiter struct {
	slots      chan struct{}
	retryAfter time.Duration
}

// NewLimiter builds a limiter admitting at most ceiling concurrent
// holders. retryAfter is the hint attached to refusals.
func NewLimiter(ceiling int, retryAfter time.Duration) *Limiter {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Limiter{
		slots:      make(chan struct{}, ceiling),
		retryAfter: retryAfter,
	}
}

// TryAcquire claims a slot without blocking. A full limiter returns
// ErrSaturated immediately.
func (l *Limiter) TryAcquire() error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
		return ErrSaturated
	}
}

// Release frees a previously acquired slot. Releasing an empty limiter
// is a bug upstream; it is absorbed rather than panicking.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// InUse returns the number of currently held slots.
func (l *Limiter) InUse() int { return len(l.slots) }

// Capacity returns the ceiling.
func (l *Limiter) Capacity() int { return cap(l.slots) }

// RetryAfter returns the refusal hint.
func (l *Limiter) RetryAfter() time.Duration { return l.retryAfter }
