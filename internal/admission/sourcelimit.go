package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceTTL is how long an idle source keeps its bucket.
const sourceTTL = 10 * time.Minute

// pruneAbove bounds the bucket map before a sweep is forced.
const pruneAbove = 1024

// SourceLimiter applies a token bucket per source address at the
// boundary. It bleeds off bursty callers before they reach the
// concurrency ceiling; refusals feed the suspicion tracker.
type SourceLimiter struct {
	mu      sync.Mutex
	buckets map[string]*sourceBucket
	rps     rate.Limit
	burst   int
}

type sourceBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewSourceLimiter builds a limiter granting rps tokens per second with
// the given burst capacity, per source.
func NewSourceLimiter(rps, burst int) *SourceLimiter {
	if rps < 1 {
		rps = 1
	}
	if burst < rps {
		burst = rps
	}
	return &SourceLimiter{
		buckets: make(map[string]*sourceBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether source may proceed at now. Unknown sources get
// a fresh full bucket.
func (s *SourceLimiter) Allow(source string, now time.Time) bool {
	if source == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[source]
	if !ok {
		if len(s.buckets) >= pruneAbove {
			s.pruneLocked(now)
		}
		b = &sourceBucket{lim: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[source] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// Sources returns the number of tracked buckets.
func (s *SourceLimiter) Sources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// pruneLocked drops buckets idle past sourceTTL; mu must be held.
func (s *SourceLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-sourceTTL)
	for source, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, source)
		}
	}
}
