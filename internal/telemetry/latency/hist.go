// Package latency tracks request latencies in bounded rolling windows
// and computes percentiles on demand. A histogram here is a ring of raw
// samples, not a streaming sketch: the monitored range is small enough
// that sorting up to a thousand floats per query is cheaper than the
// bookkeeping a sketch would add.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StageType names a tracked pipeline stage.
type StageType string

const (
	StageRequest   StageType = "request"   // end-to-end decide call
	StageDecision  StageType = "decision"  // pure decision logic only
	StageContext   StageType = "context"   // provider fan-out build
	StageOptions   StageType = "options"   // options provider fetch
	StageStats     StageType = "stats"     // market-stats provider fetch
	StageLiquidity StageType = "liquidity" // liquidity provider fetch
)

// Histogram is a thread-safe rolling window of latency samples.
type Histogram struct {
	mu      sync.RWMutex
	buckets []float64 // latency values in milliseconds
	maxSize int       // rolling window size
	current int       // next write position
	full    bool      // whether the ring wrapped
	sum     float64   // running sum of the live window
	stage   StageType
}

// NewHistogram creates a histogram holding up to maxSize samples.
func NewHistogram(stage StageType, maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Histogram{
		buckets: make([]float64, maxSize),
		maxSize: maxSize,
		stage:   stage,
	}
}

// Record adds one measurement, evicting the oldest once the ring wraps.
func (h *Histogram) Record(duration time.Duration) {
	latencyMs := float64(duration.Nanoseconds()) / 1e6

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.full {
		h.sum -= h.buckets[h.current]
	}
	h.sum += latencyMs
	h.buckets[h.current] = latencyMs
	h.current = (h.current + 1) % h.maxSize

	if !h.full && h.current == 0 {
		h.full = true
	}
}

// Percentile computes the p-th percentile (0.0-1.0) over the live
// window with linear interpolation between neighbors.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.size()
	if size == 0 {
		return 0.0
	}

	values := make([]float64, size)
	if h.full {
		copy(values, h.buckets)
	} else {
		copy(values, h.buckets[:h.current])
	}
	sort.Float64s(values)

	index := p * float64(size-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return values[lower]
	}
	weight := index - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}

// P50 returns the median.
func (h *Histogram) P50() float64 { return h.Percentile(0.5) }

// P95 returns the 95th percentile.
func (h *Histogram) P95() float64 { return h.Percentile(0.95) }

// P99 returns the 99th percentile.
func (h *Histogram) P99() float64 { return h.Percentile(0.99) }

// Mean returns the average over the live window.
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.size()
	if size == 0 {
		return 0.0
	}
	return h.sum / float64(size)
}

// Count returns how many samples the window currently holds.
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size()
}

// size assumes the lock is held.
func (h *Histogram) size() int {
	if h.full {
		return h.maxSize
	}
	return h.current
}

// Reset clears the window.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = 0
	h.full = false
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// Metrics aggregates a histogram's current view.
type Metrics struct {
	Stage   StageType `json:"stage"`
	Average float64   `json:"average_ms"`
	P50     float64   `json:"p50_ms"`
	P95     float64   `json:"p95_ms"`
	P99     float64   `json:"p99_ms"`
	Count   int       `json:"count"`
}

// Metrics returns the current aggregate view.
func (h *Histogram) Metrics() Metrics {
	return Metrics{
		Stage:   h.stage,
		Average: h.Mean(),
		P50:     h.P50(),
		P95:     h.P95(),
		P99:     h.P99(),
		Count:   h.Count(),
	}
}

// StageTracker holds one histogram per pipeline stage.
type StageTracker struct {
	mu         sync.RWMutex
	histograms map[StageType]*Histogram
	sampleSize int
}

// NewStageTracker pre-creates histograms for every known stage, each
// with the given rolling window.
func NewStageTracker(sampleSize int) *StageTracker {
	st := &StageTracker{
		histograms: make(map[StageType]*Histogram),
		sampleSize: sampleSize,
	}
	for _, stage := range []StageType{
		StageRequest, StageDecision, StageContext,
		StageOptions, StageStats, StageLiquidity,
	} {
		st.histograms[stage] = NewHistogram(stage, sampleSize)
	}
	return st
}

// Record adds a measurement for stage, creating the histogram for an
// unknown stage on first use.
func (st *StageTracker) Record(stage StageType, duration time.Duration) {
	st.mu.RLock()
	hist, exists := st.histograms[stage]
	st.mu.RUnlock()

	if !exists {
		st.mu.Lock()
		hist, exists = st.histograms[stage]
		if !exists {
			hist = NewHistogram(stage, st.sampleSize)
			st.histograms[stage] = hist
		}
		st.mu.Unlock()
	}

	hist.Record(duration)
}

// Stage returns the histogram for one stage, or nil.
func (st *StageTracker) Stage(stage StageType) *Histogram {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.histograms[stage]
}

// AllMetrics snapshots every tracked stage.
func (st *StageTracker) AllMetrics() map[StageType]Metrics {
	st.mu.RLock()
	defer st.mu.RUnlock()

	metrics := make(map[StageType]Metrics, len(st.histograms))
	for stage, hist := range st.histograms {
		metrics[stage] = hist.Metrics()
	}
	return metrics
}

// Timer measures one operation and records into a tracker on Stop.
type Timer struct {
	tracker *StageTracker
	stage   StageType
	start   time.Time
}

// StartTimer begins timing the given stage.
func (st *StageTracker) StartTimer(stage StageType) *Timer {
	return &Timer{tracker: st, stage: stage, start: time.Now()}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.tracker.Record(t.stage, duration)
	return duration
}
