package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validation error codes surfaced to the boundary layer.
const (
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidType      = "INVALID_TYPE"
	CodeInvalidEnumValue = "INVALID_ENUM_VALUE"
)

// ValidationError reports a structural problem in a raw payload. It
// carries a machine code so the boundary can map it to a 400-class
// response without string matching.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

func missingField(field string) *ValidationError {
	return &ValidationError{Code: CodeMissingField, Field: field, Message: "required field is missing"}
}

func invalidType(field, want string) *ValidationError {
	return &ValidationError{Code: CodeInvalidType, Field: field, Message: "expected " + want}
}

func invalidEnum(field string, allowed ...string) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidEnumValue,
		Field:   field,
		Message: "must be one of " + strings.Join(allowed, ", "),
	}
}

// Normalize converts a raw decoded payload into a Candidate, applying
// the clamp-or-reject rules for each field in a fixed order. It is pure:
// the caller supplies the clock used for timestamp defaulting.
//
// Structural failures return a *ValidationError and no candidate.
// Recoverable oddities (out-of-range scores, junk sessions, absent
// phase) are clamped or defaulted, never rejected.
func Normalize(raw map[string]any, now time.Time) (Candidate, error) {
	var c Candidate

	sigVal, ok := raw["signal"]
	if !ok || sigVal == nil {
		return c, missingField("signal")
	}
	sig, ok := sigVal.(map[string]any)
	if !ok {
		return c, invalidType("signal", "an object")
	}

	// signal.type
	typVal, ok := sig["type"]
	if !ok || typVal == nil {
		return c, missingField("signal.type")
	}
	typStr, ok := typVal.(string)
	if !ok {
		return c, invalidType("signal.type", "a string")
	}
	st, ok := ParseSignalType(typStr)
	if !ok {
		return c, invalidEnum("signal.type", string(SignalLong), string(SignalShort))
	}
	c.SignalType = st

	// signal.ai_score
	scoreVal, ok := sig["ai_score"]
	if !ok || scoreVal == nil {
		return c, missingField("signal.ai_score")
	}
	score, ok := numberValue(scoreVal)
	if !ok {
		return c, invalidType("signal.ai_score", "a number")
	}
	if math.IsNaN(score) {
		score = 0
	}
	c.AIScore = clampFloat(score, 0, 10.5)

	// signal.symbol
	symVal, ok := sig["symbol"]
	if !ok || symVal == nil {
		return c, missingField("signal.symbol")
	}
	sym, ok := symVal.(string)
	if !ok {
		return c, invalidType("signal.symbol", "a string")
	}
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return c, missingField("signal.symbol")
	}
	c.Symbol = sym

	// signal.timestamp: anything unusable defaults to the ingest clock.
	c.Timestamp = now.UnixMilli()
	if tsVal, ok := sig["timestamp"]; ok {
		if ts, ok := numberValue(tsVal); ok && !math.IsNaN(ts) && ts > 0 {
			c.Timestamp = int64(ts)
		}
	}

	// satyPhase.phase: optional, defaulted to 0 on any trouble.
	if phVal, ok := raw["satyPhase"]; ok {
		if ph, ok := phVal.(map[string]any); ok {
			if pv, ok := ph["phase"]; ok {
				if p, ok := numberValue(pv); ok && !math.IsNaN(p) {
					c.SatyPhase = int(clampFloat(math.Round(p), -100, 100))
				}
			}
		}
	}

	// marketSession: optional, defaulted to OPEN on any trouble.
	c.MarketSession = SessionOpen
	if msVal, ok := raw["marketSession"]; ok {
		if ms, ok := msVal.(string); ok {
			if session, ok := ParseMarketSession(ms); ok {
				c.MarketSession = session
			}
		}
	}

	return c, nil
}

// numberValue coerces the numeric shapes a decoded payload can carry.
// Strings are deliberately not coerced: "7.5" is a wrong shape.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsInf(v, 1) || v > hi {
		return hi
	}
	if math.IsInf(v, -1) || v < lo {
		return lo
	}
	return v
}
