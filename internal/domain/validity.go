package domain

// MaxValidityMinutes caps every stored signal's lifetime at 12 hours.
const MaxValidityMinutes = 720.0

// ClampReason records which bound, if any, a validity computation hit.
type ClampReason string

const (
	ClampNone ClampReason = "none"
	ClampMin  ClampReason = "min"
	ClampMax  ClampReason = "max"
)

// ValidityBreakdown exposes every factor of a validity computation for
// diagnostics. RawMinutes is the pre-clamp product.
type ValidityBreakdown struct {
	BaseMinutes float64     `json:"base_minutes"`
	RoleMult    float64     `json:"role_mult"`
	QualityMult float64     `json:"quality_mult"`
	SessionMult float64     `json:"session_mult"`
	RawMinutes  float64     `json:"raw_minutes"`
	Minutes     float64     `json:"validity_minutes"`
	Clamped     bool        `json:"clamped"`
	ClampReason ClampReason `json:"clamp_reason"`
}

// SignalValidity computes how long a stored signal stays live:
// base timeframe scaled by role, quality and session multipliers,
// clamped to [base, MaxValidityMinutes]. The longer the chart and the
// better the grade, the longer the entry survives; thin sessions
// shorten everything.
func SignalValidity(tf Timeframe, quality Quality, session MarketSession) (float64, ValidityBreakdown) {
	base := float64(tf.Minutes())

	roleMult := 1.0
	switch tf {
	case TF240:
		roleMult = 2.0
	case TF60:
		roleMult = 1.5
	}

	qualityMult := 1.0
	switch quality {
	case QualityExtreme:
		qualityMult = 1.5
	case QualityMedium:
		qualityMult = 0.75
	}

	sessionMult := 1.0
	switch session {
	case SessionOpen:
		sessionMult = 0.8
	case SessionPowerHour:
		sessionMult = 0.7
	case SessionAfterHours:
		sessionMult = 0.5
	}

	raw := base * roleMult * qualityMult * sessionMult
	minutes := raw
	clamped := false
	reason := ClampNone
	switch {
	case raw < base:
		minutes, clamped, reason = base, true, ClampMin
	case raw > MaxValidityMinutes:
		minutes, clamped, reason = MaxValidityMinutes, true, ClampMax
	}

	return minutes, ValidityBreakdown{
		BaseMinutes: base,
		RoleMult:    roleMult,
		QualityMult: qualityMult,
		SessionMult: sessionMult,
		RawMinutes:  raw,
		Minutes:     minutes,
		Clamped:     clamped,
		ClampReason: reason,
	}
}
