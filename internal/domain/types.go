// Package domain holds the pure data model and decision rules for the
// admission engine: candidates, market context, gate verdicts and the
// audit record. Nothing in this package performs I/O; every function is
// deterministic given its inputs.
package domain

import (
	"fmt"
	"strings"
)

// EngineVersion is stamped into every decision and audit record so
// downstream consumers can correlate behavior changes with releases.
const EngineVersion = "v2.1.0"

// SignalType is the direction of a trade candidate.
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
)

// ParseSignalType matches case-insensitively and reports whether the
// input named a known direction.
func ParseSignalType(s string) (SignalType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return SignalLong, true
	case "SHORT":
		return SignalShort, true
	}
	return "", false
}

// MarketSession is the trading-session bucket a candidate arrived in.
type MarketSession string

const (
	SessionOpen       MarketSession = "OPEN"
	SessionMidday     MarketSession = "MIDDAY"
	SessionPowerHour  MarketSession = "POWER_HOUR"
	SessionAfterHours MarketSession = "AFTERHOURS"
)

// ParseMarketSession matches case-insensitively.
func ParseMarketSession(s string) (MarketSession, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN":
		return SessionOpen, true
	case "MIDDAY":
		return SessionMidday, true
	case "POWER_HOUR":
		return SessionPowerHour, true
	case "AFTERHOURS":
		return SessionAfterHours, true
	}
	return "", false
}

// GammaBias is the dealer-positioning read from the options provider.
type GammaBias string

const (
	GammaPositive GammaBias = "POSITIVE"
	GammaNegative GammaBias = "NEGATIVE"
	GammaNeutral  GammaBias = "NEUTRAL"
)

// TradeVelocity buckets tape speed from the liquidity provider.
type TradeVelocity string

const (
	VelocityFast   TradeVelocity = "FAST"
	VelocityNormal TradeVelocity = "NORMAL"
	VelocitySlow   TradeVelocity = "SLOW"
)

// DataSource records whether a context block came from a live provider
// or from the engine's fallback table.
type DataSource string

const (
	SourceAPI      DataSource = "API"
	SourceFallback DataSource = "FALLBACK"
)

// Candidate is a normalized admission request. All fields are defaulted
// and clamped by Normalize; code past the boundary never re-validates.
type Candidate struct {
	SignalType    SignalType    `json:"signal_type"`
	AIScore       float64       `json:"ai_score"`
	SatyPhase     int           `json:"saty_phase"`
	MarketSession MarketSession `json:"market_session"`
	Symbol        string        `json:"symbol"`
	Timestamp     int64         `json:"timestamp"`
}

// OptionsData is the dealer-positioning slice of market context.
type OptionsData struct {
	PutCallRatio float64    `json:"put_call_ratio"`
	IVPercentile float64    `json:"iv_percentile"`
	GammaBias    GammaBias  `json:"gamma_bias"`
	DataSource   DataSource `json:"data_source"`
}

// MarketStats is the realized-volatility slice of market context.
type MarketStats struct {
	ATR14      float64    `json:"atr14"`
	RV20       float64    `json:"rv20"`
	TrendSlope float64    `json:"trend_slope"`
	DataSource DataSource `json:"data_source"`
}

// LiquidityData is the order-book slice of market context.
type LiquidityData struct {
	SpreadBPS     float64       `json:"spread_bps"`
	DepthScore    float64       `json:"depth_score"`
	TradeVelocity TradeVelocity `json:"trade_velocity"`
	DataSource    DataSource    `json:"data_source"`
}

// MarketContext is the assembled provider snapshot a candidate is
// judged against. Every block is always populated: provider failures
// are substituted with fallback values before gates run.
type MarketContext struct {
	Options   OptionsData   `json:"options_data"`
	Stats     MarketStats   `json:"market_stats"`
	Liquidity LiquidityData `json:"liquidity_data"`
}

// Verdict is the admission outcome.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// GateReason is a machine-readable rejection code emitted by a gate.
type GateReason string

const (
	ReasonSpreadTooWide      GateReason = "SPREAD_TOO_WIDE"
	ReasonVolatilitySpike    GateReason = "VOLATILITY_SPIKE"
	ReasonGammaHeadwind      GateReason = "GAMMA_HEADWIND"
	ReasonPhaseConfidenceLow GateReason = "PHASE_CONFIDENCE_LOW"
	ReasonAfterHoursBlocked  GateReason = "AFTERHOURS_BLOCKED"
)

// Gate names, in battery order.
const (
	GateSpread     = "SPREAD_GATE"
	GateVolatility = "VOLATILITY_GATE"
	GateGamma      = "GAMMA_GATE"
	GatePhase      = "PHASE_GATE"
	GateSession    = "SESSION_GATE"
)

// GateOrder returns the fixed evaluation order of the battery. Callers
// must not reorder it: reason lists and audit rows are emitted in this
// sequence.
func GateOrder() []string {
	return []string{GateSpread, GateVolatility, GateGamma, GatePhase, GateSession}
}

// GateResult is one row of the audit record's gate table.
type GateResult struct {
	GateName  string     `json:"gate_name"`
	Passed    bool       `json:"passed"`
	Reason    GateReason `json:"reason,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	Threshold *float64   `json:"threshold,omitempty"`
}

// GateSummary lists gate names by outcome. Both slices are always
// non-nil so the JSON form is a pair of arrays, never null.
type GateSummary struct {
	Passed []string `json:"passed"`
	Failed []string `json:"failed"`
}

// Decision is the engine's reply to an admission request. Confidence is
// a pointer so an approved zero score still serializes; it is nil on
// REJECT.
type Decision struct {
	Decision      Verdict      `json:"decision"`
	EngineVersion string       `json:"engine_version"`
	Direction     SignalType   `json:"direction,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`
	Reasons       []GateReason `json:"reasons,omitempty"`
	Gates         GateSummary  `json:"gates"`
	Audit         AuditTrail   `json:"audit"`
}

// AuditTrail is the immutable replay record attached to every decision.
type AuditTrail struct {
	Timestamp        string            `json:"timestamp"`
	Symbol           string            `json:"symbol"`
	Session          MarketSession     `json:"session"`
	Candidate        Candidate         `json:"candidate"`
	Context          MarketContext     `json:"context"`
	Timeframes       *TimeframeContext `json:"timeframe_context,omitempty"`
	GateResults      []GateResult      `json:"gate_results"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
}

// TimeframeContext is the advisory store snapshot captured at decision
// time. It never influences the verdict; it exists so a replayed
// decision can be read alongside what the stores held.
type TimeframeContext struct {
	Signals []StoredSignalSummary `json:"signals,omitempty"`
	Phases  []StoredPhaseSummary  `json:"phases,omitempty"`
}

// StoredSignalSummary is the audit projection of a live timeframe entry.
type StoredSignalSummary struct {
	Timeframe Timeframe  `json:"timeframe"`
	Direction SignalType `json:"direction"`
	Quality   Quality    `json:"quality"`
	AIScore   float64    `json:"ai_score"`
	ExpiresAt string     `json:"expires_at"`
}

// StoredPhaseSummary is the audit projection of a live phase entry.
type StoredPhaseSummary struct {
	Role      TFRole         `json:"tf_role"`
	EventTF   EventTimeframe `json:"event_tf"`
	Phase     int            `json:"phase"`
	ExpiresAt string         `json:"expires_at"`
}

// Quality grades a stored signal. Replacement in the timeframe store is
// strictly by priority: an incumbent is only displaced by a higher
// grade (or once it has expired).
type Quality string

const (
	QualityMedium  Quality = "MEDIUM"
	QualityHigh    Quality = "HIGH"
	QualityExtreme Quality = "EXTREME"
)

// Priority orders qualities for replacement decisions.
func (q Quality) Priority() int {
	switch q {
	case QualityExtreme:
		return 3
	case QualityHigh:
		return 2
	case QualityMedium:
		return 1
	}
	return 0
}

// ParseQuality matches case-insensitively.
func ParseQuality(s string) (Quality, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MEDIUM":
		return QualityMedium, true
	case "HIGH":
		return QualityHigh, true
	case "EXTREME":
		return QualityExtreme, true
	}
	return "", false
}

// QualityFromScore derives a grade for ingests that omit one.
func QualityFromScore(aiScore float64) Quality {
	switch {
	case aiScore >= 8.0:
		return QualityExtreme
	case aiScore >= 6.0:
		return QualityHigh
	default:
		return QualityMedium
	}
}

// Timeframe is a chart interval in minutes. Only the six supported
// intervals are valid store keys.
type Timeframe int

const (
	TF3   Timeframe = 3
	TF5   Timeframe = 5
	TF15  Timeframe = 15
	TF30  Timeframe = 30
	TF60  Timeframe = 60
	TF240 Timeframe = 240
)

// ValidTimeframe reports whether m is a supported interval.
func ValidTimeframe(m int) bool {
	switch Timeframe(m) {
	case TF3, TF5, TF15, TF30, TF60, TF240:
		return true
	}
	return false
}

// Minutes returns the interval length.
func (t Timeframe) Minutes() int { return int(t) }

func (t Timeframe) String() string { return fmt.Sprintf("%dm", int(t)) }

// TFRole is the strategic slot a phase reading occupies.
type TFRole string

const (
	RoleRegime TFRole = "REGIME"
	RoleBias   TFRole = "BIAS"
	RoleSetup  TFRole = "SETUP"
	RoleEntry  TFRole = "ENTRY"
	RoleScalp  TFRole = "SCALP"
)

// ParseTFRole matches case-insensitively.
func ParseTFRole(s string) (TFRole, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REGIME":
		return RoleRegime, true
	case "BIAS":
		return RoleBias, true
	case "SETUP":
		return RoleSetup, true
	case "ENTRY":
		return RoleEntry, true
	case "SCALP":
		return RoleScalp, true
	}
	return "", false
}

// EventTimeframe labels the chart a phase event was computed on.
type EventTimeframe string

const (
	ETF4H  EventTimeframe = "4H"
	ETF1H  EventTimeframe = "1H"
	ETF30M EventTimeframe = "30M"
	ETF15M EventTimeframe = "15M"
	ETF5M  EventTimeframe = "5M"
	ETF3M  EventTimeframe = "3M"
)

// ParseEventTimeframe matches case-insensitively.
func ParseEventTimeframe(s string) (EventTimeframe, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4H":
		return ETF4H, true
	case "1H":
		return ETF1H, true
	case "30M":
		return ETF30M, true
	case "15M":
		return ETF15M, true
	case "5M":
		return ETF5M, true
	case "3M":
		return ETF3M, true
	}
	return "", false
}

// DecayMinutes is the default phase lifetime for the event's chart
// interval. A payload-supplied override takes precedence.
func (e EventTimeframe) DecayMinutes() float64 {
	switch e {
	case ETF4H:
		return 480
	case ETF1H:
		return 240
	case ETF30M:
		return 120
	case ETF15M:
		return 60
	case ETF5M:
		return 30
	case ETF3M:
		return 15
	}
	return 60
}

// SignalEvent is an accepted timeframe-store ingest.
type SignalEvent struct {
	Candidate Candidate `json:"candidate"`
	Timeframe Timeframe `json:"timeframe"`
	Quality   Quality   `json:"quality"`
}

// PhaseEvent is an accepted phase-store ingest.
type PhaseEvent struct {
	Symbol           string         `json:"symbol"`
	Phase            int            `json:"phase"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Role             TFRole         `json:"tf_role"`
	EventTF          EventTimeframe `json:"event_tf"`
	Timestamp        int64          `json:"timestamp"`
	TimeDecayMinutes *float64       `json:"time_decay_minutes,omitempty"`
	RiskHints        map[string]any `json:"risk_hints,omitempty"`
}
