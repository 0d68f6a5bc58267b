// Package http is the boundary layer: a gorilla/mux server translating
// webhook traffic into engine calls and surfacing the observer views.
// Transport concerns stop here; nothing below this package sees an
// http.Request.
package http

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Deps collects everything the boundary needs. All fields are required
// except Hub; a nil Hub gets a fresh one.
type Deps struct {
	Frozen   *config.Frozen
	Verifier *config.Verifier
	Engine   *engine.Engine
	Tracker  *telemetry.Tracker
	Probers  []Prober
	Suspects *admission.SuspicionTracker
	Sources  *admission.SourceLimiter
	Metrics  *MetricsRegistry
	Hub      *Hub
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	http *http.Server
	cfg  config.ServerConfig
	hub  *Hub
}

// NewServer wires the router, middleware chain and live gauges.
func NewServer(deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	cfg := deps.Frozen.Server()

	h := &Handlers{
		frozen:   deps.Frozen,
		verifier: deps.Verifier,
		engine:   deps.Engine,
		tracker:  deps.Tracker,
		probers:  deps.Probers,
		suspects: deps.Suspects,
		sources:  deps.Sources,
		metrics:  deps.Metrics,
		started:  time.Now(),
	}

	deps.Metrics.RegisterGauges(
		deps.Engine.InFlight,
		func() int { return len(deps.Engine.SignalSnapshot()) },
		func() int { return len(deps.Engine.PhaseSnapshot()) },
		deps.Hub.ClientCount,
	)

	router := mux.NewRouter()
	router.NotFoundHandler = requestID(http.HandlerFunc(h.NotFound))
	router.Use(requestID, requestLogging, recovery, commonHeaders)

	router.HandleFunc("/ws/decisions", deps.Hub.ServeWS).Methods(http.MethodGet)
	router.Handle("/metrics/prometheus", deps.Metrics.Handler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/metrics", h.HandleMetricsJSON).Methods(http.MethodGet)
	api.HandleFunc("/decisions/recent", h.HandleDecisions).Methods(http.MethodGet)
	api.HandleFunc("/state/signals", h.HandleStateSignals).Methods(http.MethodGet)
	api.HandleFunc("/state/phases", h.HandleStatePhases).Methods(http.MethodGet)

	hooks := router.PathPrefix("/webhook").Subrouter()
	hooks.Use(jsonContentType, h.requireAPIKey)
	hooks.HandleFunc("/signal", h.HandleSignal).Methods(http.MethodPost)
	hooks.HandleFunc("/phase", h.HandlePhase).Methods(http.MethodPost)

	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout(),
			WriteTimeout: cfg.WriteTimeout(),
			IdleTimeout:  cfg.IdleTimeout(),
		},
		cfg: cfg,
		hub: deps.Hub,
	}
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Hub returns the decision-stream hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins serving and blocks until the listener fails or Shutdown
// runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown disconnects stream subscribers and drains in-flight
// requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestIDFrom returns the request's ID, or a placeholder outside the
// middleware chain.
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// requestID tags every request with a short correlation ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogging emits one structured line per request.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", clientIP(r)).
			Msg("request")
	})
}

// recovery converts handler panics into 500s instead of dropped
// connections.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				http.Error(w, `{"error":"INTERNAL"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// commonHeaders applies CORS and the security headers, and short-
// circuits preflight.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonContentType marks API responses; handlers that stream another
// format set their own type afterwards.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey guards the webhook routes when a key is configured.
// Refusals count as anomalies for the source.
func (h *Handlers) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.frozen.Server().APIKey
		if key != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				h.suspects.RecordAnomaly(clientIP(r), time.Now())
				h.writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED",
					"missing or invalid API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures the status code for the request log. It
// forwards Hijack so the websocket upgrade still works under the
// logging middleware.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
