// Package engine runs the admission pipeline: normalize the raw signal,
// assemble market context under deadline, evaluate the gate battery,
// attach confidence and emit an audited decision. The same inputs under
// the same frozen configuration always produce the same verdict.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/domain/gates"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// DecisionSink receives every emitted decision. Consume runs on the
// request path, so sinks that do real work must hand off internally.
type DecisionSink interface {
	Consume(decision domain.Decision)
}

// Deps wires the engine's collaborators at the composition root.
type Deps struct {
	Config  *config.Frozen
	Builder *market.Builder
	Signals *store.SignalStore
	Phases  *store.PhaseStore
	Tracker *telemetry.Tracker
	Sinks   []DecisionSink
	Now     func() time.Time
}

// Engine is the deterministic admission pipeline. Concurrent Decide
// calls are bounded by the admission limiter; everything past it is
// either immutable or internally locked.
type Engine struct {
	requestTimeout time.Duration
	retryAfter     time.Duration
	gateCfg        gates.Config
	builder        *market.Builder
	signals        *store.SignalStore
	phases         *store.PhaseStore
	tracker        *telemetry.Tracker
	limiter        *admission.Limiter
	audits         *AuditRing
	sinks          []DecisionSink
	now            func() time.Time
}

// New assembles an engine from frozen configuration and its
// collaborators.
func New(deps Deps) *Engine {
	engineCfg := deps.Config.Engine()
	gateCfg := deps.Config.Gates()
	envelope := deps.Config.Envelope()

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		requestTimeout: engineCfg.RequestTimeout(),
		retryAfter:     envelope.RetryAfter(),
		gateCfg: gates.Config{
			SpreadMaxBPS:       gateCfg.SpreadMaxBPS,
			VolatilityMaxRatio: gateCfg.VolatilityMaxRatio,
			PhaseMinMagnitude:  gateCfg.PhaseMinMagnitude,
		},
		builder: deps.Builder,
		signals: deps.Signals,
		phases:  deps.Phases,
		tracker: deps.Tracker,
		limiter: admission.NewLimiter(envelope.MaxConcurrent, envelope.RetryAfter()),
		audits:  NewAuditRing(engineCfg.AuditRingSize),
		sinks:   deps.Sinks,
		now:     now,
	}
}

// RetryAfterMS is the backoff hint surfaced when admission is saturated.
func (e *Engine) RetryAfterMS() int {
	return int(e.retryAfter / time.Millisecond)
}

// InFlight returns the number of decisions currently executing.
func (e *Engine) InFlight() int { return e.limiter.InUse() }

// Recent returns up to n audited decisions, newest first.
func (e *Engine) Recent(n int) []domain.Decision { return e.audits.Recent(n) }

// Decide runs one admission decision end to end. It returns
// admission.ErrSaturated when the concurrency ceiling is full and a
// *domain.ValidationError when the payload is structurally unusable;
// a REJECT verdict is a successful decision, not an error.
func (e *Engine) Decide(ctx context.Context, raw map[string]any) (domain.Decision, error) {
	if err := e.limiter.TryAcquire(); err != nil {
		log.Warn().
			Int("in_flight", e.limiter.InUse()).
			Int("ceiling", e.limiter.Capacity()).
			Msg("Admission saturated, shedding request")
		return domain.Decision{}, err
	}
	defer e.limiter.Release()

	now := e.now()
	start := time.Now()
	e.tracker.RequestStarted(now)

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	cand, err := domain.Normalize(raw, now)
	if err != nil {
		e.tracker.RequestCompleted(time.Since(start), 0, true)
		return domain.Decision{}, err
	}

	// A structurally valid signal enriches the timeframe store no matter
	// how the verdict lands. Stores never feed back into gates.
	if ev, ok := domain.SignalEventFromRaw(raw, cand); ok {
		if _, accepted, breakdown := e.signals.Put(ev, now); accepted {
			log.Debug().
				Str("symbol", ev.Candidate.Symbol).
				Int("timeframe", int(ev.Timeframe)).
				Str("quality", string(ev.Quality)).
				Float64("validity_min", breakdown.Minutes).
				Msg("Timeframe store updated")
		}
	}

	mctx, buildReport := e.builder.Build(ctx, cand.Symbol)

	decisionStart := time.Now()
	battery := gates.EvaluateAll(cand, mctx, e.gateCfg)
	decision := e.assemble(cand, mctx, battery, now, start)
	decisionOnly := time.Since(decisionStart)

	e.audits.Add(decision)
	for _, sink := range e.sinks {
		sink.Consume(decision)
	}
	e.tracker.RequestCompleted(time.Since(start), decisionOnly, false)

	log.Info().
		Str("symbol", cand.Symbol).
		Str("decision", string(decision.Decision)).
		Int("live_providers", buildReport.LiveCount).
		Strs("failed_gates", decision.Gates.Failed).
		Float64("processing_ms", decision.Audit.ProcessingTimeMS).
		Msg("Decision emitted")

	return decision, nil
}

// assemble turns the battery outcome into the wire decision plus its
// audit record.
func (e *Engine) assemble(cand domain.Candidate, mctx domain.MarketContext, battery gates.BatteryResult, now time.Time, start time.Time) domain.Decision {
	decision := domain.Decision{
		Decision:      domain.VerdictReject,
		EngineVersion: domain.EngineVersion,
		Gates:         gates.Summary(battery),
	}

	if battery.AllPassed {
		decision.Decision = domain.VerdictApprove
		decision.Direction = cand.SignalType
		confidence, _ := domain.AssembleConfidence(cand, mctx)
		decision.Confidence = &confidence
	} else {
		decision.Reasons = battery.Reasons
	}

	decision.Audit = domain.AuditTrail{
		Timestamp:        now.UTC().Format(time.RFC3339Nano),
		Symbol:           cand.Symbol,
		Session:          cand.MarketSession,
		Candidate:        cand,
		Context:          mctx,
		Timeframes:       e.timeframeContext(now),
		GateResults:      battery.Results,
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}
	return decision
}

// timeframeContext snapshots both stores for the audit record, or nil
// when both are empty.
func (e *Engine) timeframeContext(now time.Time) *domain.TimeframeContext {
	signals := store.SummarizeSignals(e.signals.Snapshot(now))
	phases := store.SummarizePhases(e.phases.Snapshot(now))
	if len(signals) == 0 && len(phases) == 0 {
		return nil
	}
	return &domain.TimeframeContext{Signals: signals, Phases: phases}
}

// IngestPhase records one phase reading into the strategic store. It
// returns the entry now holding the slot and whether the reading was
// accepted; a *domain.ValidationError reports an unusable payload.
func (e *Engine) IngestPhase(raw map[string]any) (store.StoredPhase, bool, error) {
	now := e.now()
	ev, err := domain.PhaseEventFromRaw(raw, now)
	if err != nil {
		return store.StoredPhase{}, false, err
	}

	stored, accepted := e.phases.Put(ev, now)
	if accepted {
		log.Debug().
			Str("symbol", ev.Symbol).
			Str("tf_role", string(ev.Role)).
			Str("event_tf", string(ev.EventTF)).
			Int("phase", ev.Phase).
			Msg("Phase store updated")
	} else {
		log.Debug().
			Str("symbol", ev.Symbol).
			Str("tf_role", string(ev.Role)).
			Str("event_tf", string(ev.EventTF)).
			Msg("Phase reading discarded, incumbent is newer")
	}
	return stored, accepted, nil
}

// SignalSnapshot returns the live timeframe entries for the state
// endpoint.
func (e *Engine) SignalSnapshot() []store.StoredSignal {
	return e.signals.Snapshot(e.now())
}

// PhaseSnapshot returns the live phase entries for the state endpoint.
func (e *Engine) PhaseSnapshot() []store.StoredPhase {
	return e.phases.Snapshot(e.now())
}
