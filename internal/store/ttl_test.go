package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(key string, priority int64, stored time.Time, ttl time.Duration) Entry[string, string] {
	return Entry[string, string]{
		Key:       key,
		Payload:   key + "-payload",
		Priority:  priority,
		StoredAt:  stored,
		ExpiresAt: stored.Add(ttl),
	}
}

func TestTTLStore_PutIntoEmptySlot(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	stored, accepted := s.Put(entryAt("a", 1, now, time.Minute), now)
	assert.True(t, accepted)
	assert.Equal(t, "a-payload", stored.Payload)

	got, ok := s.Get("a", now)
	require.True(t, ok)
	assert.Equal(t, "a-payload", got.Payload)
}

func TestTTLStore_HigherPriorityReplaces(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	s.Put(entryAt("a", 1, now, time.Minute), now)

	newer := entryAt("a", 2, now, time.Minute)
	newer.Payload = "upgraded"
	stored, accepted := s.Put(newer, now)

	assert.True(t, accepted)
	assert.Equal(t, "upgraded", stored.Payload)
}

func TestTTLStore_LowerOrEqualPriorityKeepsIncumbent(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	first := entryAt("a", 3, now, time.Minute)
	first.Payload = "incumbent"
	s.Put(first, now)

	lower := entryAt("a", 1, now, time.Minute)
	stored, accepted := s.Put(lower, now)
	assert.False(t, accepted)
	assert.Equal(t, "incumbent", stored.Payload)

	equal := entryAt("a", 3, now, time.Minute)
	equal.Payload = "challenger"
	stored, accepted = s.Put(equal, now)
	assert.False(t, accepted, "ties keep the incumbent")
	assert.Equal(t, "incumbent", stored.Payload)
}

func TestTTLStore_ExpiredIncumbentLosesToAnyPriority(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	s.Put(entryAt("a", 3, now, time.Minute), now)

	later := now.Add(2 * time.Minute)
	weak := entryAt("a", 1, later, time.Minute)
	weak.Payload = "fresh"
	stored, accepted := s.Put(weak, later)

	assert.True(t, accepted)
	assert.Equal(t, "fresh", stored.Payload)
}

func TestTTLStore_ExpiryBoundaryIsExclusive(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()
	s.Put(entryAt("a", 1, now, time.Minute), now)

	_, ok := s.Get("a", now.Add(time.Minute-time.Nanosecond))
	assert.True(t, ok, "alive just before expiry")

	_, ok = s.Get("a", now.Add(time.Minute))
	assert.False(t, ok, "dead at exactly the expiry instant")

	_, ok = s.Get("a", now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestTTLStore_GetAllActiveSkipsExpired(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	s.Put(entryAt("short", 1, now, time.Minute), now)
	s.Put(entryAt("long", 1, now, time.Hour), now)

	later := now.Add(5 * time.Minute)
	active := s.GetAllActive(later)
	require.Len(t, active, 1)
	assert.Equal(t, "long", active[0].Key)
}

func TestTTLStore_SweepIsIdempotent(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()

	s.Put(entryAt("a", 1, now, time.Minute), now)
	s.Put(entryAt("b", 1, now, time.Hour), now)

	later := now.Add(10 * time.Minute)
	assert.Equal(t, 1, s.Sweep(later))
	assert.Equal(t, 0, s.Sweep(later), "second sweep at the same instant removes nothing")
	assert.Equal(t, 1, s.Len())
}

func TestTTLStore_Remaining(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()
	s.Put(entryAt("a", 1, now, time.Minute), now)

	assert.Equal(t, 30*time.Second, s.Remaining("a", now.Add(30*time.Second)))
	assert.Equal(t, time.Duration(0), s.Remaining("a", now.Add(2*time.Minute)))
	assert.Equal(t, time.Duration(0), s.Remaining("missing", now))
}

func TestTTLStore_Clear(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()
	s.Put(entryAt("a", 1, now, time.Minute), now)
	s.Put(entryAt("b", 1, now, time.Minute), now)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestTTLStore_SweeperLifecycle(t *testing.T) {
	s := NewTTLStore[string, string]()
	now := time.Now()
	s.Put(entryAt("a", 1, now, time.Millisecond), now)

	s.StartSweeper(5 * time.Millisecond)
	s.StartSweeper(5 * time.Millisecond) // second start is a no-op

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.StopSweeper()
	s.StopSweeper() // second stop is a no-op
}

func TestTTLStore_ConcurrentPutsStayConsistent(t *testing.T) {
	s := NewTTLStore[int, int]()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			e := Entry[int, int]{Key: 7, Payload: p, Priority: int64(p), StoredAt: now, ExpiresAt: now.Add(time.Minute)}
			s.Put(e, now)
		}(i)
	}
	wg.Wait()

	got, ok := s.Get(7, now)
	require.True(t, ok)
	assert.Equal(t, int64(49), got.Priority, "highest priority write wins regardless of interleaving")
	assert.Equal(t, 49, got.Payload)
}
