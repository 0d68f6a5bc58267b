package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Prober is the slice of a provider client the health view needs.
type Prober interface {
	Name() string
	Status(ctx context.Context) providers.ProbeStatus
}

// Handlers implements the endpoint logic. Every dependency is injected;
// nothing here reaches for package globals.
type Handlers struct {
	frozen   *config.Frozen
	verifier *config.Verifier
	engine   *engine.Engine
	tracker  *telemetry.Tracker
	probers  []Prober
	suspects *admission.SuspicionTracker
	sources  *admission.SourceLimiter
	metrics  *MetricsRegistry
	started  time.Time
}

// HandleSignal is POST /webhook/signal: the admission decision path.
// Validation failures are 400, a full ceiling is 503, REJECT verdicts
// are ordinary 200s.
func (h *Handlers) HandleSignal(w http.ResponseWriter, r *http.Request) {
	source := clientIP(r)
	if !h.sources.Allow(source, time.Now()) {
		h.suspects.RecordAnomaly(source, time.Now())
		h.writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED",
			"too many requests from this source")
		return
	}

	raw, ok := h.decodeBody(w, r, source)
	if !ok {
		return
	}

	start := time.Now()
	decision, err := h.engine.Decide(r.Context(), raw)
	if err != nil {
		h.writeDecideError(w, r, source, err)
		return
	}

	h.metrics.ObserveDecision(decision, time.Since(start))
	h.writeJSON(w, http.StatusOK, decision)
}

// HandlePhase is POST /webhook/phase: strategic phase-store ingest. A
// discarded event still acks 200, reporting the incumbent that held the
// slot.
func (h *Handlers) HandlePhase(w http.ResponseWriter, r *http.Request) {
	source := clientIP(r)
	if !h.sources.Allow(source, time.Now()) {
		h.suspects.RecordAnomaly(source, time.Now())
		h.writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED",
			"too many requests from this source")
		return
	}

	raw, ok := h.decodeBody(w, r, source)
	if !ok {
		return
	}

	stored, accepted, err := h.engine.IngestPhase(raw)
	if err != nil {
		h.writeDecideError(w, r, source, err)
		return
	}

	status := "stored"
	if !accepted {
		status = "discarded"
	}
	h.writeJSON(w, http.StatusOK, PhaseAckResponse{
		Status:    status,
		Role:      string(stored.Key.Role),
		EventTF:   string(stored.Key.EventTF),
		Phase:     stored.Payload.Phase,
		ExpiresAt: stored.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// decodeBody reads one JSON object from the capped request body. It
// writes the error response itself and reports success via ok.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, source string) (map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.frozen.Server().MaxBodyBytes)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.suspects.RecordAnomaly(source, time.Now())

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"request body exceeds the configured limit")
			return nil, false
		}

		h.metrics.RecordValidationError("MALFORMED_JSON")
		h.writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:         "MALFORMED_JSON",
			Type:          "VALIDATION_ERROR",
			Message:       "request body is not valid JSON",
			EngineVersion: domain.EngineVersion,
		})
		return nil, false
	}
	return raw, true
}

// writeDecideError maps the engine's two error categories onto the wire.
func (h *Handlers) writeDecideError(w http.ResponseWriter, r *http.Request, source string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, admission.ErrSaturated):
		h.metrics.RecordSaturation()
		h.writeJSON(w, http.StatusServiceUnavailable, SaturatedResponse{
			Error:        "SATURATED",
			RetryAfterMS: h.engine.RetryAfterMS(),
		})
	case errors.As(err, &verr):
		h.suspects.RecordAnomaly(source, time.Now())
		h.metrics.RecordValidationError(verr.Code)
		h.writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:         verr.Code,
			Type:          "VALIDATION_ERROR",
			Field:         verr.Field,
			Message:       verr.Message,
			EngineVersion: domain.EngineVersion,
		})
	default:
		h.writeError(w, r, http.StatusInternalServerError, "INTERNAL",
			"decision engine failed")
	}
}

// writeJSON writes a JSON response with a fallback when encoding fails.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the generic error envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// NotFound handles unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "NOT_FOUND",
		"the requested endpoint does not exist")
}

// clientIP extracts the caller address, honoring the usual proxy header.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
