// Package gates implements the admission battery: five pure predicates
// over (candidate, market context), always evaluated in a fixed order
// with no short-circuit, so every verdict carries the complete picture
// of what passed and what blocked.
package gates

import (
	"math"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Config carries the tunable gate thresholds. Values come from the
// frozen configuration; gates themselves stay pure.
type Config struct {
	SpreadMaxBPS       float64
	VolatilityMaxRatio float64
	PhaseMinMagnitude  int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SpreadMaxBPS:       12.0,
		VolatilityMaxRatio: 2.0,
		PhaseMinMagnitude:  65,
	}
}

// BatteryResult is the complete outcome of one battery run.
type BatteryResult struct {
	Results   []domain.GateResult `json:"results"`
	Passed    []string            `json:"passed"`
	Failed    []string            `json:"failed"`
	Reasons   []domain.GateReason `json:"reasons"`
	AllPassed bool                `json:"all_passed"`
}

// EvaluateAll runs the full battery in the fixed order SPREAD,
// VOLATILITY, GAMMA, PHASE, SESSION. All five always run; failures are
// collected, never short-circuited, so rejects can cite every violated
// gate and the audit record always holds five rows.
func EvaluateAll(cand domain.Candidate, ctx domain.MarketContext, cfg Config) BatteryResult {
	out := BatteryResult{
		Results:   make([]domain.GateResult, 0, 5),
		Passed:    make([]string, 0, 5),
		Failed:    make([]string, 0, 5),
		Reasons:   make([]domain.GateReason, 0),
		AllPassed: true,
	}

	for _, r := range []domain.GateResult{
		evaluateSpread(ctx, cfg),
		evaluateVolatility(ctx, cfg),
		evaluateGamma(cand, ctx),
		evaluatePhase(cand, cfg),
		evaluateSession(cand),
	} {
		out.Results = append(out.Results, r)
		if r.Passed {
			out.Passed = append(out.Passed, r.GateName)
			continue
		}
		out.AllPassed = false
		out.Failed = append(out.Failed, r.GateName)
		out.Reasons = append(out.Reasons, r.Reason)
	}

	return out
}

// evaluateSpread blocks wide markets. The liquidity fallback reports
// 999 bps, so an unreachable liquidity provider always trips this gate.
func evaluateSpread(ctx domain.MarketContext, cfg Config) domain.GateResult {
	value := ctx.Liquidity.SpreadBPS
	r := domain.GateResult{
		GateName:  domain.GateSpread,
		Passed:    value <= cfg.SpreadMaxBPS,
		Value:     ptr(value),
		Threshold: ptr(cfg.SpreadMaxBPS),
	}
	if !r.Passed {
		r.Reason = domain.ReasonSpreadTooWide
	}
	return r
}

// evaluateVolatility compares short-horizon true range to realized
// volatility. A zero or negative rv20 means the ratio is undefined and
// is treated as calm (1.0). NaN operands are zeroed first, which also
// lands on the calm branch.
func evaluateVolatility(ctx domain.MarketContext, cfg Config) domain.GateResult {
	atr := ctx.Stats.ATR14
	rv := ctx.Stats.RV20
	if math.IsNaN(atr) {
		atr = 0
	}
	if math.IsNaN(rv) {
		rv = 0
	}

	ratio := 1.0
	if rv > 0 {
		ratio = atr / rv
	}

	r := domain.GateResult{
		GateName:  domain.GateVolatility,
		Passed:    ratio <= cfg.VolatilityMaxRatio,
		Value:     ptr(ratio),
		Threshold: ptr(cfg.VolatilityMaxRatio),
	}
	if !r.Passed {
		r.Reason = domain.ReasonVolatilitySpike
	}
	return r
}

// evaluateGamma blocks trading into dealer headwind: longs against
// negative gamma, shorts against positive. NEUTRAL never blocks.
func evaluateGamma(cand domain.Candidate, ctx domain.MarketContext) domain.GateResult {
	bias := ctx.Options.GammaBias
	headwind := (cand.SignalType == domain.SignalLong && bias == domain.GammaNegative) ||
		(cand.SignalType == domain.SignalShort && bias == domain.GammaPositive)

	r := domain.GateResult{
		GateName: domain.GateGamma,
		Passed:   !headwind,
	}
	if headwind {
		r.Reason = domain.ReasonGammaHeadwind
	}
	return r
}

// evaluatePhase requires conviction in either direction: the oscillator
// magnitude must clear the floor.
func evaluatePhase(cand domain.Candidate, cfg Config) domain.GateResult {
	magnitude := cand.SatyPhase
	if magnitude < 0 {
		magnitude = -magnitude
	}
	r := domain.GateResult{
		GateName:  domain.GatePhase,
		Passed:    magnitude >= cfg.PhaseMinMagnitude,
		Value:     ptr(float64(magnitude)),
		Threshold: ptr(float64(cfg.PhaseMinMagnitude)),
	}
	if !r.Passed {
		r.Reason = domain.ReasonPhaseConfidenceLow
	}
	return r
}

// evaluateSession admits only regular-hours buckets.
func evaluateSession(cand domain.Candidate) domain.GateResult {
	pass := cand.MarketSession == domain.SessionOpen ||
		cand.MarketSession == domain.SessionMidday ||
		cand.MarketSession == domain.SessionPowerHour

	r := domain.GateResult{
		GateName: domain.GateSession,
		Passed:   pass,
	}
	if !pass {
		r.Reason = domain.ReasonAfterHoursBlocked
	}
	return r
}

func ptr(v float64) *float64 { return &v }
