package store

import (
	"sort"
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
)

// PhaseKey addresses one strategic slot: a role observed on a chart.
type PhaseKey struct {
	Role    domain.TFRole
	EventTF domain.EventTimeframe
}

// StoredPhase is a phase-store entry.
type StoredPhase = Entry[PhaseKey, domain.PhaseEvent]

// PhaseStore keeps the freshest phase reading per (role, event
// timeframe). Priority is the event timestamp: a newer reading
// supersedes, a replayed or stale one is discarded. Expiry anchors at
// the event timestamp so a reading decays from when it was computed,
// not from when it arrived.
type PhaseStore struct {
	ttl *TTLStore[PhaseKey, domain.PhaseEvent]
}

// NewPhaseStore builds an empty store; call StartSweeper to enable
// background reclaim.
func NewPhaseStore() *PhaseStore {
	return &PhaseStore{ttl: NewTTLStore[PhaseKey, domain.PhaseEvent]()}
}

// Put stores ev under its (role, event_tf) slot. The decay window comes
// from the event timeframe table unless the payload overrides it.
func (s *PhaseStore) Put(ev domain.PhaseEvent, now time.Time) (StoredPhase, bool) {
	eventTime := time.UnixMilli(ev.Timestamp)
	entry := StoredPhase{
		Key:       PhaseKey{Role: ev.Role, EventTF: ev.EventTF},
		Payload:   ev,
		Priority:  ev.Timestamp,
		StoredAt:  now,
		ExpiresAt: eventTime.Add(time.Duration(ev.DecayMinutes() * float64(time.Minute))),
	}
	return s.ttl.Put(entry, now)
}

// Get returns the live entry for key, if any.
func (s *PhaseStore) Get(key PhaseKey, now time.Time) (StoredPhase, bool) {
	return s.ttl.Get(key, now)
}

// Snapshot returns all live entries ordered by role seniority, then by
// the event chart from slow to fast.
func (s *PhaseStore) Snapshot(now time.Time) []StoredPhase {
	entries := s.ttl.GetAllActive(now)
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := roleRank(entries[i].Key.Role), roleRank(entries[j].Key.Role)
		if ri != rj {
			return ri < rj
		}
		return entries[i].Key.EventTF.DecayMinutes() > entries[j].Key.EventTF.DecayMinutes()
	})
	return entries
}

// Remaining returns the life left for key's entry.
func (s *PhaseStore) Remaining(key PhaseKey, now time.Time) time.Duration {
	return s.ttl.Remaining(key, now)
}

// Sweep reclaims expired entries.
func (s *PhaseStore) Sweep(now time.Time) int { return s.ttl.Sweep(now) }

// Clear empties the store.
func (s *PhaseStore) Clear() { s.ttl.Clear() }

// StartSweeper begins background reclaim at the given interval.
func (s *PhaseStore) StartSweeper(interval time.Duration) { s.ttl.StartSweeper(interval) }

// StopSweeper halts background reclaim.
func (s *PhaseStore) StopSweeper() { s.ttl.StopSweeper() }

func roleRank(r domain.TFRole) int {
	switch r {
	case domain.RoleRegime:
		return 0
	case domain.RoleBias:
		return 1
	case domain.RoleSetup:
		return 2
	case domain.RoleEntry:
		return 3
	case domain.RoleScalp:
		return 4
	}
	return 5
}

// SummarizePhases projects entries into the audit-record shape.
func SummarizePhases(entries []StoredPhase) []domain.StoredPhaseSummary {
	if len(entries) == 0 {
		return nil
	}
	out := make([]domain.StoredPhaseSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.StoredPhaseSummary{
			Role:      e.Key.Role,
			EventTF:   e.Key.EventTF,
			Phase:     e.Payload.Phase,
			ExpiresAt: e.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
