package admission

import (
	"sort"
	"sync"
	"time"
)

// SuspicionTracker counts boundary anomalies (malformed payloads,
// refused requests, oversized bodies) per source address inside a
// rolling window. A source crossing the threshold is flagged; the flag
// is advisory to the boundary layer, never a hard block here.
type SuspicionTracker struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	threshold int
	window    time.Duration
}

// NewSuspicionTracker builds a tracker flagging sources that accumulate
// threshold anomalies within window.
func NewSuspicionTracker(threshold int, window time.Duration) *SuspicionTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &SuspicionTracker{
		events:    make(map[string][]time.Time),
		threshold: threshold,
		window:    window,
	}
}

// RecordAnomaly registers one anomaly for source and reports whether
// the source is now flagged.
func (s *SuspicionTracker) RecordAnomaly(source string, now time.Time) bool {
	if source == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pruneLocked(source, now)
	kept = append(kept, now)
	s.events[source] = kept
	return len(kept) >= s.threshold
}

// IsSuspicious reports whether source is currently flagged.
func (s *SuspicionTracker) IsSuspicious(source string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pruneLocked(source, now)
	if len(kept) == 0 {
		delete(s.events, source)
		return false
	}
	s.events[source] = kept
	return len(kept) >= s.threshold
}

// Flagged lists all currently suspicious sources, sorted.
func (s *SuspicionTracker) Flagged(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for source := range s.events {
		kept := s.pruneLocked(source, now)
		if len(kept) == 0 {
			delete(s.events, source)
			continue
		}
		s.events[source] = kept
		if len(kept) >= s.threshold {
			out = append(out, source)
		}
	}
	sort.Strings(out)
	return out
}

// pruneLocked drops events older than the window; mu must be held.
func (s *SuspicionTracker) pruneLocked(source string, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	events := s.events[source]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
