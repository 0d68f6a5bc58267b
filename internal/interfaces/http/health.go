package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// HandleHealth is GET /health: provider probes, the performance
// assessment and config integrity. Probes hit their cached window, so
// polling this endpoint does not hammer upstreams.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	statuses := make([]providers.ProbeStatus, 0, len(h.probers))
	enabled, down := 0, 0
	for _, p := range h.probers {
		st := p.Status(r.Context())
		statuses = append(statuses, st)
		if st.Status == "disabled" {
			continue
		}
		enabled++
		if st.Status == "unhealthy" {
			down++
		}
	}

	perf := h.tracker.Health()

	overall := "healthy"
	switch {
	case enabled > 0 && down == enabled:
		overall = "unhealthy"
	case down > 0 || !perf.Healthy:
		overall = "degraded"
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        overall,
		Providers:     statuses,
		Performance:   perf,
		UptimeMS:      now.Sub(h.started).Milliseconds(),
		EngineVersion: domain.EngineVersion,
		Config: ConfigHealth{
			Checksum:   h.frozen.Checksum(),
			FrozenAt:   h.frozen.FrozenAt(),
			Violations: h.verifier.Violations(),
		},
		Suspicious: h.suspects.Flagged(now),
	})
}

// HandleMetricsJSON is GET /metrics: the envelope's JSON snapshot.
func (h *Handlers) HandleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		telemetry.MetricsView
		EngineVersion string `json:"engine_version"`
	}{h.tracker.Snapshot(time.Now()), domain.EngineVersion}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDecisions is GET /decisions/recent: the audit ring, newest
// first.
func (h *Handlers) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, http.StatusBadRequest, "BAD_LIMIT",
				"limit must be a positive integer")
			return
		}
		limit = n
	}

	decisions := h.engine.Recent(limit)
	h.writeJSON(w, http.StatusOK, RecentDecisionsResponse{
		Count:     len(decisions),
		Decisions: decisions,
	})
}

// HandleStateSignals is GET /state/signals: live timeframe entries with
// remaining validity.
func (h *Handlers) HandleStateSignals(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	entries := h.engine.SignalSnapshot()

	out := make([]SignalStateEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, SignalStateEntry{
			Timeframe:   int(e.Key),
			Direction:   string(e.Payload.Candidate.SignalType),
			Quality:     string(e.Payload.Quality),
			AIScore:     e.Payload.Candidate.AIScore,
			Symbol:      e.Payload.Candidate.Symbol,
			StoredAt:    e.StoredAt.UTC().Format(time.RFC3339),
			ExpiresAt:   e.ExpiresAt.UTC().Format(time.RFC3339),
			RemainingMS: e.Remaining(now).Milliseconds(),
		})
	}

	h.writeJSON(w, http.StatusOK, SignalStateResponse{Count: len(out), Signals: out})
}

// HandleStatePhases is GET /state/phases: live strategic slots with
// remaining validity.
func (h *Handlers) HandleStatePhases(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	entries := h.engine.PhaseSnapshot()

	out := make([]PhaseStateEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PhaseStateEntry{
			Role:        string(e.Key.Role),
			EventTF:     string(e.Key.EventTF),
			Symbol:      e.Payload.Symbol,
			Phase:       e.Payload.Phase,
			StoredAt:    e.StoredAt.UTC().Format(time.RFC3339),
			ExpiresAt:   e.ExpiresAt.UTC().Format(time.RFC3339),
			RemainingMS: e.Remaining(now).Milliseconds(),
		})
	}

	h.writeJSON(w, http.StatusOK, PhaseStateResponse{Count: len(out), Phases: out})
}
