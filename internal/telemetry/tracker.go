// Package telemetry aggregates the performance envelope around the
// decision engine: in-flight gauges, throughput counters, rolling
// latency percentiles per stage, error rates, and the health assessment
// derived from the frozen performance targets.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/telemetry/latency"
)

// Tracker is the process-wide performance tracker. All counters are
// mutex-protected; latency windows have their own internal locking.
type Tracker struct {
	envelope  config.EnvelopeConfig
	stages    *latency.StageTracker
	startedAt time.Time

	mu           sync.Mutex
	inFlight     int
	peakInFlight int
	total        int64
	completed    int64
	errors       int64
	curSecond    int64
	curCount     int
	prevCount    int
	peakRPS      int
}

// NewTracker builds a tracker sized by the envelope configuration.
func NewTracker(envelope config.EnvelopeConfig) *Tracker {
	return &Tracker{
		envelope:  envelope,
		stages:    latency.NewStageTracker(envelope.LatencySampleSize),
		startedAt: time.Now(),
	}
}

// Stages exposes the per-stage latency windows.
func (t *Tracker) Stages() *latency.StageTracker { return t.stages }

// Uptime reports time since construction.
func (t *Tracker) Uptime() time.Duration { return time.Since(t.startedAt) }

// RequestStarted registers an arriving request: throughput counters,
// the per-second rate buckets and the in-flight gauge.
func (t *Tracker) RequestStarted(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollRPS(now)
	t.curCount++
	if t.curCount > t.peakRPS {
		t.peakRPS = t.curCount
	}

	t.total++
	t.inFlight++
	if t.inFlight > t.peakInFlight {
		t.peakInFlight = t.inFlight
	}
}

// RequestCompleted closes out a request. The total duration lands in
// the end-to-end window; decisionOnly, when positive, lands in the
// decision-logic window. failed marks validation and system errors,
// not REJECT verdicts.
func (t *Tracker) RequestCompleted(total, decisionOnly time.Duration, failed bool) {
	t.mu.Lock()
	t.inFlight--
	if t.inFlight < 0 {
		t.inFlight = 0
	}
	t.completed++
	if failed {
		t.errors++
	}
	t.mu.Unlock()

	t.stages.Record(latency.StageRequest, total)
	if decisionOnly > 0 {
		t.stages.Record(latency.StageDecision, decisionOnly)
	}
}

// rollRPS advances the per-second bucket; mu must be held.
func (t *Tracker) rollRPS(now time.Time) {
	sec := now.Unix()
	if sec == t.curSecond {
		return
	}
	if sec == t.curSecond+1 {
		t.prevCount = t.curCount
	} else {
		t.prevCount = 0
	}
	t.curSecond = sec
	t.curCount = 0
}

// ErrorRate returns the failure percentage over all completed requests.
func (t *Tracker) ErrorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorRateLocked()
}

func (t *Tracker) errorRateLocked() float64 {
	if t.completed == 0 {
		return 0
	}
	return float64(t.errors) / float64(t.completed) * 100.0
}

// InFlight returns the current concurrent-request gauge.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// MetricsView is the wire shape of the metrics endpoint.
type MetricsView struct {
	Latency        LatencyView        `json:"latency"`
	Throughput     ThroughputView     `json:"throughput"`
	DecisionEngine DecisionEngineView `json:"decision_engine"`
	Errors         ErrorsView         `json:"errors"`
}

type LatencyView struct {
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

type ThroughputView struct {
	TotalRequests     int64   `json:"total_requests"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	PeakRPS           float64 `json:"peak_rps"`
	Concurrent        int     `json:"concurrent"`
	MaxConcurrent     int     `json:"max_concurrent"`
}

type DecisionEngineView struct {
	AverageLatencyMS float64 `json:"average_latency_ms"`
}

type ErrorsView struct {
	ErrorRate float64 `json:"error_rate"`
}

// Snapshot assembles the current metrics view.
func (t *Tracker) Snapshot(now time.Time) MetricsView {
	request := t.stages.Stage(latency.StageRequest)
	decision := t.stages.Stage(latency.StageDecision)

	t.mu.Lock()
	t.rollRPS(now)
	view := MetricsView{
		Throughput: ThroughputView{
			TotalRequests:     t.total,
			RequestsPerSecond: float64(t.prevCount),
			PeakRPS:           float64(t.peakRPS),
			Concurrent:        t.inFlight,
			MaxConcurrent:     t.peakInFlight,
		},
		Errors: ErrorsView{ErrorRate: t.errorRateLocked()},
	}
	t.mu.Unlock()

	view.Latency = LatencyView{
		Average: request.Mean(),
		P50:     request.P50(),
		P95:     request.P95(),
		P99:     request.P99(),
	}
	view.DecisionEngine = DecisionEngineView{AverageLatencyMS: decision.Mean()}
	return view
}

// PerformanceHealth is the threshold assessment surfaced in health.
type PerformanceHealth struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
}

// Health evaluates the envelope thresholds: average and p95 against the
// webhook target, error rate against the configured ceiling.
func (t *Tracker) Health() PerformanceHealth {
	request := t.stages.Stage(latency.StageRequest)
	issues := make([]string, 0)

	if avg := request.Mean(); avg > t.envelope.WebhookTargetMS {
		issues = append(issues, fmt.Sprintf("average latency %.1fms exceeds %.0fms target", avg, t.envelope.WebhookTargetMS))
	}
	if p95 := request.P95(); p95 > t.envelope.WebhookTargetMS {
		issues = append(issues, fmt.Sprintf("p95 latency %.1fms exceeds %.0fms target", p95, t.envelope.WebhookTargetMS))
	}
	if rate := t.ErrorRate(); rate > t.envelope.MaxErrorRatePct {
		issues = append(issues, fmt.Sprintf("error rate %.1f%% exceeds %.1f%% ceiling", rate, t.envelope.MaxErrorRatePct))
	}

	return PerformanceHealth{Healthy: len(issues) == 0, Issues: issues}
}
