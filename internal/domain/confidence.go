package domain

// MaxConfidence caps the assembled confidence score.
const MaxConfidence = 10.0

const (
	phaseBoostThreshold  = 80
	phaseBoost           = 0.5
	spreadBoostThreshold = 5.0
	spreadBoost          = 0.3
)

// ConfidenceBreakdown itemizes an approved candidate's score.
type ConfidenceBreakdown struct {
	Base        float64 `json:"base"`
	PhaseBoost  float64 `json:"phase_boost"`
	SpreadBoost float64 `json:"spread_boost"`
	Raw         float64 `json:"raw"`
	Final       float64 `json:"final"`
	Capped      bool    `json:"capped"`
}

// AssembleConfidence scores a fully-admitted candidate: the AI score
// plus additive boosts for strong phase conviction and a tight spread,
// clamped once at the end. Only called after every gate has passed.
func AssembleConfidence(cand Candidate, ctx MarketContext) (float64, ConfidenceBreakdown) {
	b := ConfidenceBreakdown{Base: cand.AIScore}

	if abs(cand.SatyPhase) >= phaseBoostThreshold {
		b.PhaseBoost = phaseBoost
	}
	if ctx.Liquidity.SpreadBPS <= spreadBoostThreshold {
		b.SpreadBoost = spreadBoost
	}

	b.Raw = b.Base + b.PhaseBoost + b.SpreadBoost
	b.Final = clampFloat(b.Raw, 0, MaxConfidence)
	b.Capped = b.Final != b.Raw

	return b.Final, b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
