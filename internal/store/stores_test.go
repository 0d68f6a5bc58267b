package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
)

func signalEvent(tf domain.Timeframe, quality domain.Quality, session domain.MarketSession) domain.SignalEvent {
	return domain.SignalEvent{
		Candidate: domain.Candidate{
			SignalType:    domain.SignalLong,
			AIScore:       7.0,
			SatyPhase:     70,
			MarketSession: session,
			Symbol:        "SPY",
			Timestamp:     time.Now().UnixMilli(),
		},
		Timeframe: tf,
		Quality:   quality,
	}
}

func TestSignalStore_ValidityComputedOnInsert(t *testing.T) {
	s := NewSignalStore()
	now := time.Now()

	stored, accepted, breakdown := s.Put(signalEvent(domain.TF15, domain.QualityHigh, domain.SessionMidday), now)
	require.True(t, accepted)
	assert.InDelta(t, 15.0, breakdown.Minutes, 1e-9)
	assert.Equal(t, now.Add(15*time.Minute), stored.ExpiresAt)
}

func TestSignalStore_QualityPriorityReplace(t *testing.T) {
	s := NewSignalStore()
	now := time.Now()

	s.Put(signalEvent(domain.TF15, domain.QualityExtreme, domain.SessionMidday), now)

	// MEDIUM does not displace a live EXTREME.
	stored, accepted, _ := s.Put(signalEvent(domain.TF15, domain.QualityMedium, domain.SessionMidday), now)
	assert.False(t, accepted)
	assert.Equal(t, domain.QualityExtreme, stored.Payload.Quality)

	// HIGH displaces a live MEDIUM.
	s.Clear()
	s.Put(signalEvent(domain.TF15, domain.QualityMedium, domain.SessionMidday), now)
	stored, accepted, _ = s.Put(signalEvent(domain.TF15, domain.QualityHigh, domain.SessionMidday), now)
	assert.True(t, accepted)
	assert.Equal(t, domain.QualityHigh, stored.Payload.Quality)

	// Equal quality keeps the incumbent.
	first := signalEvent(domain.TF15, domain.QualityHigh, domain.SessionMidday)
	first.Candidate.AIScore = 6.0
	s.Clear()
	s.Put(first, now)
	challenger := signalEvent(domain.TF15, domain.QualityHigh, domain.SessionMidday)
	challenger.Candidate.AIScore = 9.9
	stored, accepted, _ = s.Put(challenger, now)
	assert.False(t, accepted)
	assert.Equal(t, 6.0, stored.Payload.Candidate.AIScore)
}

func TestSignalStore_ExpiredIncumbentLoses(t *testing.T) {
	s := NewSignalStore()
	now := time.Now()

	s.Put(signalEvent(domain.TF15, domain.QualityExtreme, domain.SessionMidday), now)

	// A 15m EXTREME MIDDAY entry lives 22.5 minutes; an hour later it is gone.
	later := now.Add(time.Hour)
	stored, accepted, _ := s.Put(signalEvent(domain.TF15, domain.QualityMedium, domain.SessionMidday), later)
	assert.True(t, accepted)
	assert.Equal(t, domain.QualityMedium, stored.Payload.Quality)
}

func TestSignalStore_SnapshotSortedByTimeframe(t *testing.T) {
	s := NewSignalStore()
	now := time.Now()

	s.Put(signalEvent(domain.TF240, domain.QualityHigh, domain.SessionMidday), now)
	s.Put(signalEvent(domain.TF3, domain.QualityHigh, domain.SessionMidday), now)
	s.Put(signalEvent(domain.TF30, domain.QualityHigh, domain.SessionMidday), now)

	snap := s.Snapshot(now)
	require.Len(t, snap, 3)
	assert.Equal(t, domain.TF3, snap[0].Key)
	assert.Equal(t, domain.TF30, snap[1].Key)
	assert.Equal(t, domain.TF240, snap[2].Key)
}

func TestSummarizeSignals(t *testing.T) {
	s := NewSignalStore()
	now := time.Now()
	s.Put(signalEvent(domain.TF15, domain.QualityHigh, domain.SessionMidday), now)

	summaries := SummarizeSignals(s.Snapshot(now))
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.TF15, summaries[0].Timeframe)
	assert.Equal(t, domain.SignalLong, summaries[0].Direction)
	assert.NotEmpty(t, summaries[0].ExpiresAt)

	assert.Nil(t, SummarizeSignals(nil), "empty snapshot yields no summary block")
}

func phaseEvent(role domain.TFRole, etf domain.EventTimeframe, phase int, ts time.Time) domain.PhaseEvent {
	return domain.PhaseEvent{
		Symbol:    "SPY",
		Phase:     phase,
		Role:      role,
		EventTF:   etf,
		Timestamp: ts.UnixMilli(),
	}
}

func TestPhaseStore_NewerEventSupersedes(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()

	s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 40, now.Add(-time.Minute)), now)

	stored, accepted := s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 80, now), now)
	assert.True(t, accepted)
	assert.Equal(t, 80, stored.Payload.Phase)
}

func TestPhaseStore_ReplayedEventDiscarded(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()
	ts := now.Add(-time.Minute)

	s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 40, ts), now)

	// Same event timestamp again: incumbent stays.
	stored, accepted := s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 99, ts), now)
	assert.False(t, accepted)
	assert.Equal(t, 40, stored.Payload.Phase)

	// Older event: also discarded.
	_, accepted = s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 99, ts.Add(-time.Hour)), now)
	assert.False(t, accepted)
}

func TestPhaseStore_DecayAnchorsAtEventTime(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()

	// 3M chart decays in 15 minutes from the event timestamp.
	eventTime := now.Add(-10 * time.Minute)
	stored, accepted := s.Put(phaseEvent(domain.RoleScalp, domain.ETF3M, 60, eventTime), now)
	require.True(t, accepted)
	assert.Equal(t, eventTime.Add(15*time.Minute).UnixMilli(), stored.ExpiresAt.UnixMilli())

	key := PhaseKey{Role: domain.RoleScalp, EventTF: domain.ETF3M}
	_, ok := s.Get(key, now)
	assert.True(t, ok, "five minutes of decay left")

	_, ok = s.Get(key, now.Add(6*time.Minute))
	assert.False(t, ok, "fully decayed")
}

func TestPhaseStore_PayloadDecayOverridesTable(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()

	override := 5.0
	ev := phaseEvent(domain.RoleEntry, domain.ETF4H, 70, now)
	ev.TimeDecayMinutes = &override

	stored, _ := s.Put(ev, now)
	assert.Equal(t, now.Add(5*time.Minute).UnixMilli(), stored.ExpiresAt.UnixMilli())
}

func TestPhaseStore_SnapshotOrderedByRoleThenChart(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()

	s.Put(phaseEvent(domain.RoleScalp, domain.ETF3M, 10, now), now)
	s.Put(phaseEvent(domain.RoleRegime, domain.ETF4H, 20, now), now)
	s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 30, now), now)
	s.Put(phaseEvent(domain.RoleBias, domain.ETF4H, 40, now), now)

	snap := s.Snapshot(now)
	require.Len(t, snap, 4)
	assert.Equal(t, domain.RoleRegime, snap[0].Key.Role)
	assert.Equal(t, domain.RoleBias, snap[1].Key.Role)
	assert.Equal(t, domain.ETF4H, snap[1].Key.EventTF, "slower chart first within a role")
	assert.Equal(t, domain.ETF1H, snap[2].Key.EventTF)
	assert.Equal(t, domain.RoleScalp, snap[3].Key.Role)
}

func TestSummarizePhases(t *testing.T) {
	s := NewPhaseStore()
	now := time.Now()
	s.Put(phaseEvent(domain.RoleBias, domain.ETF1H, 55, now), now)

	summaries := SummarizePhases(s.Snapshot(now))
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.RoleBias, summaries[0].Role)
	assert.Equal(t, 55, summaries[0].Phase)
}
