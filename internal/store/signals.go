package store

import (
	"sort"
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
)

// DefaultSweepInterval is how often the background sweeper reclaims
// expired entries when the composition root starts it.
const DefaultSweepInterval = 10 * time.Second

// StoredSignal is a timeframe-store entry.
type StoredSignal = Entry[domain.Timeframe, domain.SignalEvent]

// SignalStore keeps the best live signal per chart timeframe. Quality
// decides replacement: EXTREME > HIGH > MEDIUM, incumbent wins ties.
type SignalStore struct {
	ttl *TTLStore[domain.Timeframe, domain.SignalEvent]
}

// NewSignalStore builds an empty store; call StartSweeper to enable
// background reclaim.
func NewSignalStore() *SignalStore {
	return &SignalStore{ttl: NewTTLStore[domain.Timeframe, domain.SignalEvent]()}
}

// Put stores ev for its timeframe, computing the validity window from
// (timeframe, quality, session) at insert time. It returns the entry
// now holding the slot, whether that entry is the new one, and the
// validity breakdown for diagnostics.
func (s *SignalStore) Put(ev domain.SignalEvent, now time.Time) (StoredSignal, bool, domain.ValidityBreakdown) {
	minutes, breakdown := domain.SignalValidity(ev.Timeframe, ev.Quality, ev.Candidate.MarketSession)
	entry := StoredSignal{
		Key:       ev.Timeframe,
		Payload:   ev,
		Priority:  int64(ev.Quality.Priority()),
		StoredAt:  now,
		ExpiresAt: now.Add(time.Duration(minutes * float64(time.Minute))),
	}
	stored, accepted := s.ttl.Put(entry, now)
	return stored, accepted, breakdown
}

// Get returns the live entry for tf, if any.
func (s *SignalStore) Get(tf domain.Timeframe, now time.Time) (StoredSignal, bool) {
	return s.ttl.Get(tf, now)
}

// Snapshot returns all live entries ordered by timeframe.
func (s *SignalStore) Snapshot(now time.Time) []StoredSignal {
	entries := s.ttl.GetAllActive(now)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Remaining returns the life left for tf's entry.
func (s *SignalStore) Remaining(tf domain.Timeframe, now time.Time) time.Duration {
	return s.ttl.Remaining(tf, now)
}

// Sweep reclaims expired entries.
func (s *SignalStore) Sweep(now time.Time) int { return s.ttl.Sweep(now) }

// Clear empties the store.
func (s *SignalStore) Clear() { s.ttl.Clear() }

// StartSweeper begins background reclaim at the given interval.
func (s *SignalStore) StartSweeper(interval time.Duration) { s.ttl.StartSweeper(interval) }

// StopSweeper halts background reclaim.
func (s *SignalStore) StopSweeper() { s.ttl.StopSweeper() }

// SummarizeSignals projects entries into the audit-record shape.
func SummarizeSignals(entries []StoredSignal) []domain.StoredSignalSummary {
	if len(entries) == 0 {
		return nil
	}
	out := make([]domain.StoredSignalSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.StoredSignalSummary{
			Timeframe: e.Key,
			Direction: e.Payload.Candidate.SignalType,
			Quality:   e.Payload.Quality,
			AIScore:   e.Payload.Candidate.AIScore,
			ExpiresAt: e.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
