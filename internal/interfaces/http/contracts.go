package http

import (
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// ValidationErrorResponse is the 400 reply for structurally unusable
// payloads. Error carries the machine code, Type is always
// VALIDATION_ERROR.
type ValidationErrorResponse struct {
	Error         string `json:"error"`
	Type          string `json:"type"`
	Field         string `json:"field,omitempty"`
	Message       string `json:"message"`
	EngineVersion string `json:"engine_version"`
}

// SaturatedResponse is the 503 reply when the admission ceiling is full.
type SaturatedResponse struct {
	Error        string `json:"error"`
	RetryAfterMS int    `json:"retry_after_ms"`
}

// ErrorResponse is the generic error envelope for everything else.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse is the health view: overall status, per-provider rows,
// the performance assessment and identity.
type HealthResponse struct {
	Status        string                      `json:"status"`
	Providers     []providers.ProbeStatus     `json:"providers"`
	Performance   telemetry.PerformanceHealth `json:"performance"`
	UptimeMS      int64                       `json:"uptime_ms"`
	EngineVersion string                      `json:"engine_version"`
	Config        ConfigHealth                `json:"config"`
	Suspicious    []string                    `json:"suspicious_sources,omitempty"`
}

// ConfigHealth reports the frozen-config integrity state.
type ConfigHealth struct {
	Checksum   string    `json:"checksum"`
	FrozenAt   time.Time `json:"frozen_at"`
	Violations int64     `json:"violations"`
}

// PhaseAckResponse is the reply to a phase webhook.
type PhaseAckResponse struct {
	Status    string `json:"status"` // stored | discarded
	Role      string `json:"tf_role"`
	EventTF   string `json:"event_tf"`
	Phase     int    `json:"phase"`
	ExpiresAt string `json:"expires_at"`
}

// SignalStateResponse lists the live timeframe-store entries.
type SignalStateResponse struct {
	Count   int                `json:"count"`
	Signals []SignalStateEntry `json:"signals"`
}

// SignalStateEntry is one live timeframe slot.
type SignalStateEntry struct {
	Timeframe   int     `json:"timeframe"`
	Direction   string  `json:"direction"`
	Quality     string  `json:"quality"`
	AIScore     float64 `json:"ai_score"`
	Symbol      string  `json:"symbol"`
	StoredAt    string  `json:"stored_at"`
	ExpiresAt   string  `json:"expires_at"`
	RemainingMS int64   `json:"remaining_ms"`
}

// PhaseStateResponse lists the live phase-store entries.
type PhaseStateResponse struct {
	Count  int               `json:"count"`
	Phases []PhaseStateEntry `json:"phases"`
}

// PhaseStateEntry is one live strategic slot.
type PhaseStateEntry struct {
	Role        string `json:"tf_role"`
	EventTF     string `json:"event_tf"`
	Symbol      string `json:"symbol"`
	Phase       int    `json:"phase"`
	StoredAt    string `json:"stored_at"`
	ExpiresAt   string `json:"expires_at"`
	RemainingMS int64  `json:"remaining_ms"`
}

// RecentDecisionsResponse pages through the in-memory audit ring.
type RecentDecisionsResponse struct {
	Count     int               `json:"count"`
	Decisions []domain.Decision `json:"decisions"`
}
