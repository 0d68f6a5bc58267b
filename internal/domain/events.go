package domain

import (
	"math"
	"strings"
	"time"
)

// SignalEventFromRaw extracts the optional store-ingest extras from a
// signal payload that already passed Normalize. The extras are advisory:
// a missing or unsupported timeframe simply means nothing is stored, so
// this reports ok=false instead of an error. Quality falls back to a
// score-derived grade when the payload omits one.
func SignalEventFromRaw(raw map[string]any, cand Candidate) (SignalEvent, bool) {
	tfVal, ok := raw["timeframe"]
	if !ok {
		return SignalEvent{}, false
	}
	tf, ok := numberValue(tfVal)
	if !ok || math.IsNaN(tf) || !ValidTimeframe(int(tf)) {
		return SignalEvent{}, false
	}

	quality := QualityFromScore(cand.AIScore)
	if qVal, ok := raw["quality"]; ok {
		if qs, ok := qVal.(string); ok {
			if q, ok := ParseQuality(qs); ok {
				quality = q
			}
		}
	}

	return SignalEvent{Candidate: cand, Timeframe: Timeframe(int(tf)), Quality: quality}, true
}

// PhaseEventFromRaw validates a phase-update payload. Unlike signal
// extras, phase updates have their own required fields and fail with a
// *ValidationError when the shape is wrong.
func PhaseEventFromRaw(raw map[string]any, now time.Time) (PhaseEvent, error) {
	var ev PhaseEvent

	phVal, ok := raw["phase"]
	if !ok || phVal == nil {
		return ev, missingField("phase")
	}
	ph, ok := numberValue(phVal)
	if !ok {
		return ev, invalidType("phase", "a number")
	}
	if math.IsNaN(ph) {
		ph = 0
	}
	ev.Phase = int(clampFloat(math.Round(ph), -100, 100))

	symVal, ok := raw["symbol"]
	if !ok || symVal == nil {
		return ev, missingField("symbol")
	}
	sym, ok := symVal.(string)
	if !ok {
		return ev, invalidType("symbol", "a string")
	}
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return ev, missingField("symbol")
	}
	ev.Symbol = sym

	roleVal, ok := raw["tf_role"]
	if !ok || roleVal == nil {
		return ev, missingField("tf_role")
	}
	roleStr, ok := roleVal.(string)
	if !ok {
		return ev, invalidType("tf_role", "a string")
	}
	role, ok := ParseTFRole(roleStr)
	if !ok {
		return ev, invalidEnum("tf_role",
			string(RoleRegime), string(RoleBias), string(RoleSetup), string(RoleEntry), string(RoleScalp))
	}
	ev.Role = role

	etfVal, ok := raw["event_tf"]
	if !ok || etfVal == nil {
		return ev, missingField("event_tf")
	}
	etfStr, ok := etfVal.(string)
	if !ok {
		return ev, invalidType("event_tf", "a string")
	}
	etf, ok := ParseEventTimeframe(etfStr)
	if !ok {
		return ev, invalidEnum("event_tf",
			string(ETF4H), string(ETF1H), string(ETF30M), string(ETF15M), string(ETF5M), string(ETF3M))
	}
	ev.EventTF = etf

	ev.Timestamp = now.UnixMilli()
	if tsVal, ok := raw["timestamp"]; ok {
		if ts, ok := numberValue(tsVal); ok && !math.IsNaN(ts) && ts > 0 {
			ev.Timestamp = int64(ts)
		}
	}

	if cVal, ok := raw["confidence"]; ok {
		if conf, ok := numberValue(cVal); ok && !math.IsNaN(conf) {
			conf = clampFloat(conf, 0, 100)
			ev.Confidence = &conf
		}
	}

	if dVal, ok := raw["time_decay_minutes"]; ok {
		if d, ok := numberValue(dVal); ok && !math.IsNaN(d) && d > 0 {
			ev.TimeDecayMinutes = &d
		}
	}

	if hVal, ok := raw["risk_hints"]; ok {
		if hints, ok := hVal.(map[string]any); ok && len(hints) > 0 {
			ev.RiskHints = hints
		}
	}

	return ev, nil
}

// DecayMinutes resolves the phase lifetime: a payload override wins,
// otherwise the event timeframe's fixed table applies.
func (ev PhaseEvent) DecayMinutes() float64 {
	if ev.TimeDecayMinutes != nil && *ev.TimeDecayMinutes > 0 {
		return *ev.TimeDecayMinutes
	}
	return ev.EventTF.DecayMinutes()
}
