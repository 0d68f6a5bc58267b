package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// goodMarketServers stands up three providers whose data passes every
// gate.
func goodMarketServers(t *testing.T) (options, stats, liquidity *httptest.Server) {
	t.Helper()
	options = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"put_call_ratio": 0.9, "iv_percentile": 55, "gamma_bias": "POSITIVE"}`))
	}))
	t.Cleanup(options.Close)
	stats = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"atr14": 1.5, "rv20": 1.2, "trend_slope": 0.4}`))
	}))
	t.Cleanup(stats.Close)
	liquidity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"spread_bps": 4.0, "depth_score": 90, "trade_velocity": "FAST"}`))
	}))
	t.Cleanup(liquidity.Close)
	return options, stats, liquidity
}

func enableProvider(p *config.ProviderConfig, baseURL string) {
	p.Enabled = true
	p.BaseURL = baseURL
	p.APIKey = "sk-test"
}

type testStack struct {
	srv *Server
	eng *engine.Engine
	ts  *httptest.Server
}

// newTestStack wires the full boundary over a real engine. Empty URLs
// leave that provider disabled so it serves its fallback.
func newTestStack(t *testing.T, optionsURL, statsURL, liquidityURL string, mutate func(*config.Config)) *testStack {
	t.Helper()

	cfg := config.Default()
	if optionsURL != "" {
		enableProvider(&cfg.Providers.Options, optionsURL)
	}
	if statsURL != "" {
		enableProvider(&cfg.Providers.Stats, statsURL)
	}
	if liquidityURL != "" {
		enableProvider(&cfg.Providers.Liquidity, liquidityURL)
	}
	if mutate != nil {
		mutate(cfg)
	}

	frozen, err := config.Freeze(cfg)
	require.NoError(t, err)

	tracker := telemetry.NewTracker(frozen.Envelope())
	fb := frozen.Fallbacks()
	optionsClient := providers.NewOptionsClient(frozen.Providers().Options, fb.OptionsData(), providers.NewMemoryCache())
	statsClient := providers.NewStatsClient(frozen.Providers().Stats, fb.StatsData(), providers.NewMemoryCache())
	liquidityClient := providers.NewLiquidityClient(frozen.Providers().Liquidity, fb.LiquidityData(), providers.NewMemoryCache())
	builder := market.NewBuilder(optionsClient, statsClient, liquidityClient, frozen.Engine().ProviderTimeout(), tracker.Stages())

	hub := NewHub()
	eng := engine.New(engine.Deps{
		Config:  frozen,
		Builder: builder,
		Signals: store.NewSignalStore(),
		Phases:  store.NewPhaseStore(),
		Tracker: tracker,
		Sinks:   []engine.DecisionSink{hub},
	})

	envelope := frozen.Envelope()
	srv := NewServer(Deps{
		Frozen:   frozen,
		Verifier: config.NewVerifier(frozen, time.Minute),
		Engine:   eng,
		Tracker:  tracker,
		Probers:  []Prober{optionsClient, statsClient, liquidityClient},
		Suspects: admission.NewSuspicionTracker(envelope.SuspicionThreshold, envelope.SuspicionWindow()),
		Sources:  admission.NewSourceLimiter(frozen.Server().SourceRPS, frozen.Server().SourceBurst),
		Metrics:  NewMetricsRegistry(),
		Hub:      hub,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testStack{srv: srv, eng: eng, ts: ts}
}

func signalBody() map[string]any {
	return map[string]any{
		"signal": map[string]any{
			"type":     "LONG",
			"ai_score": 8.5,
			"symbol":   "SPY",
		},
		"satyPhase":     map[string]any{"phase": 82},
		"marketSession": "OPEN",
	}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServer_SignalWebhookApproves(t *testing.T) {
	optSrv, statSrv, liqSrv := goodMarketServers(t)
	stack := newTestStack(t, optSrv.URL, statSrv.URL, liqSrv.URL, nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get("X-Request-ID"), 8)

	var decision domain.Decision
	decodeInto(t, resp, &decision)
	assert.Equal(t, domain.VerdictApprove, decision.Decision)
	assert.Equal(t, domain.SignalLong, decision.Direction)
	require.NotNil(t, decision.Confidence)
	assert.InDelta(t, 9.3, *decision.Confidence, 1e-9)
}

func TestServer_RejectIsAnOrdinary200(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decision domain.Decision
	decodeInto(t, resp, &decision)
	assert.Equal(t, domain.VerdictReject, decision.Decision)
	assert.Contains(t, decision.Reasons, domain.ReasonSpreadTooWide)
	assert.Nil(t, decision.Confidence)
}

func TestServer_ValidationErrorIs400(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", map[string]any{"nonsense": true}, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var verr ValidationErrorResponse
	decodeInto(t, resp, &verr)
	assert.Equal(t, domain.CodeMissingField, verr.Error)
	assert.Equal(t, "VALIDATION_ERROR", verr.Type)
	assert.Equal(t, "signal", verr.Field)
	assert.Equal(t, domain.EngineVersion, verr.EngineVersion)
}

func TestServer_MalformedJSONIs400(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp, err := http.Post(stack.ts.URL+"/webhook/signal", "application/json",
		strings.NewReader(`{"signal": {`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var verr ValidationErrorResponse
	decodeInto(t, resp, &verr)
	assert.Equal(t, "MALFORMED_JSON", verr.Error)
}

func TestServer_PayloadTooLargeIs413(t *testing.T) {
	stack := newTestStack(t, "", "", "", func(c *config.Config) {
		c.Server.MaxBodyBytes = 64
	})

	big := map[string]any{"signal": strings.Repeat("x", 256)}
	resp := postJSON(t, stack.ts.URL+"/webhook/signal", big, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_APIKeyGuardsWebhooksOnly(t *testing.T) {
	stack := newTestStack(t, "", "", "", func(c *config.Config) {
		c.Server.APIKey = "sk-hook-secret"
	})

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(),
		map[string]string{"X-API-Key": "sk-hook-secret"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(stack.ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "observer routes stay open")
}

func TestServer_SaturationIs503WithRetryHint(t *testing.T) {
	optSrv, statSrv, _ := goodMarketServers(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		w.Write([]byte(`{"spread_bps": 4.0, "depth_score": 90, "trade_velocity": "FAST"}`))
	}))
	defer slow.Close()

	stack := newTestStack(t, optSrv.URL, statSrv.URL, slow.URL, func(c *config.Config) {
		c.Envelope.MaxConcurrent = 1
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
		resp.Body.Close()
	}()

	require.Eventually(t, func() bool { return stack.eng.InFlight() == 1 },
		time.Second, 5*time.Millisecond)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var sat SaturatedResponse
	decodeInto(t, resp, &sat)
	assert.Equal(t, "SATURATED", sat.Error)
	assert.Equal(t, 250, sat.RetryAfterMS)

	wg.Wait()
}

func TestServer_SourceRateLimitFeedsSuspicion(t *testing.T) {
	stack := newTestStack(t, "", "", "", func(c *config.Config) {
		c.Server.SourceRPS = 1
		c.Server.SourceBurst = 2
		c.Envelope.SuspicionThreshold = 2
	})

	for i := 0; i < 2; i++ {
		resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "burst request %d", i)
	}

	for i := 0; i < 2; i++ {
		resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}

	var health HealthResponse
	resp, err := http.Get(stack.ts.URL + "/health")
	require.NoError(t, err)
	decodeInto(t, resp, &health)
	assert.Equal(t, []string{"127.0.0.1"}, health.Suspicious)
}

func TestServer_PhaseWebhookRoundTrip(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/phase", map[string]any{
		"phase":    72,
		"symbol":   "SPY",
		"tf_role":  "SETUP",
		"event_tf": "30M",
	}, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ack PhaseAckResponse
	decodeInto(t, resp, &ack)
	assert.Equal(t, "stored", ack.Status)
	assert.Equal(t, "SETUP", ack.Role)
	assert.Equal(t, "30M", ack.EventTF)
	assert.Equal(t, 72, ack.Phase)

	var state PhaseStateResponse
	stateResp, err := http.Get(stack.ts.URL + "/state/phases")
	require.NoError(t, err)
	decodeInto(t, stateResp, &state)
	require.Equal(t, 1, state.Count)
	assert.Equal(t, "SPY", state.Phases[0].Symbol)
	assert.Greater(t, state.Phases[0].RemainingMS, int64(0))
}

func TestServer_PhaseWebhookBadPayload(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/phase", map[string]any{"symbol": "SPY"}, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var verr ValidationErrorResponse
	decodeInto(t, resp, &verr)
	assert.Equal(t, domain.CodeMissingField, verr.Error)
	assert.Equal(t, "phase", verr.Field)
}

func TestServer_SignalStateReflectsIngest(t *testing.T) {
	optSrv, statSrv, liqSrv := goodMarketServers(t)
	stack := newTestStack(t, optSrv.URL, statSrv.URL, liqSrv.URL, nil)

	body := signalBody()
	body["timeframe"] = 60
	body["quality"] = "EXTREME"
	resp := postJSON(t, stack.ts.URL+"/webhook/signal", body, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state SignalStateResponse
	stateResp, err := http.Get(stack.ts.URL + "/state/signals")
	require.NoError(t, err)
	decodeInto(t, stateResp, &state)
	require.Equal(t, 1, state.Count)
	assert.Equal(t, 60, state.Signals[0].Timeframe)
	assert.Equal(t, "EXTREME", state.Signals[0].Quality)
	assert.Equal(t, "SPY", state.Signals[0].Symbol)
}

func TestServer_HealthAggregatesProviderRows(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	var health HealthResponse
	resp, err := http.Get(stack.ts.URL + "/health")
	require.NoError(t, err)
	decodeInto(t, resp, &health)

	assert.Equal(t, "healthy", health.Status, "disabled providers do not degrade health")
	require.Len(t, health.Providers, 3)
	for _, p := range health.Providers {
		assert.Equal(t, "disabled", p.Status)
	}
	assert.Equal(t, domain.EngineVersion, health.EngineVersion)
	assert.NotEmpty(t, health.Config.Checksum)
	assert.Zero(t, health.Config.Violations)
	assert.True(t, health.Performance.Healthy)
}

func TestServer_HealthDegradesWhenAProviderIsDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	_, statSrv, liqSrv := goodMarketServers(t)

	stack := newTestStack(t, broken.URL, statSrv.URL, liqSrv.URL, nil)

	var health HealthResponse
	resp, err := http.Get(stack.ts.URL + "/health")
	require.NoError(t, err)
	decodeInto(t, resp, &health)

	assert.Equal(t, "degraded", health.Status)
}

func TestServer_HealthUnhealthyWhenAllProvidersDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	stack := newTestStack(t, broken.URL, broken.URL, broken.URL, nil)

	var health HealthResponse
	resp, err := http.Get(stack.ts.URL + "/health")
	require.NoError(t, err)
	decodeInto(t, resp, &health)

	assert.Equal(t, "unhealthy", health.Status)
}

func TestServer_MetricsJSONView(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
	resp.Body.Close()

	var view map[string]any
	metricsResp, err := http.Get(stack.ts.URL + "/metrics")
	require.NoError(t, err)
	decodeInto(t, metricsResp, &view)

	throughput, ok := view["throughput"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, throughput["total_requests"])
	assert.Equal(t, domain.EngineVersion, view["engine_version"])
	assert.Contains(t, view, "latency")
	assert.Contains(t, view, "decision_engine")
	assert.Contains(t, view, "errors")
}

func TestServer_PrometheusScrape(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp := postJSON(t, stack.ts.URL+"/webhook/signal", signalBody(), nil)
	resp.Body.Close()

	promResp, err := http.Get(stack.ts.URL + "/metrics/prometheus")
	require.NoError(t, err)
	defer promResp.Body.Close()
	require.Equal(t, http.StatusOK, promResp.StatusCode)

	body, err := io.ReadAll(promResp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `tradegate_decisions_total{verdict="REJECT"} 1`)
	assert.Contains(t, text, "tradegate_in_flight_requests 0")
	assert.Contains(t, text, "tradegate_approval_rate 0")
	assert.Contains(t, text, `tradegate_provider_fallbacks_total{provider="liquidity"} 1`)
}

func TestServer_RecentDecisionsNewestFirst(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	for _, symbol := range []string{"SPY", "QQQ", "IWM"} {
		body := signalBody()
		body["signal"].(map[string]any)["symbol"] = symbol
		resp := postJSON(t, stack.ts.URL+"/webhook/signal", body, nil)
		resp.Body.Close()
	}

	var recent RecentDecisionsResponse
	resp, err := http.Get(stack.ts.URL + "/decisions/recent?limit=2")
	require.NoError(t, err)
	decodeInto(t, resp, &recent)

	require.Equal(t, 2, recent.Count)
	assert.Equal(t, "IWM", recent.Decisions[0].Audit.Symbol)
	assert.Equal(t, "QQQ", recent.Decisions[1].Audit.Symbol)
}

func TestServer_BadLimitRejected(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp, err := http.Get(stack.ts.URL + "/decisions/recent?limit=abc")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	decodeInto(t, resp, &errResp)
	assert.Equal(t, "BAD_LIMIT", errResp.Error)
	assert.NotEmpty(t, errResp.RequestID)
}

func TestServer_NotFoundEnvelope(t *testing.T) {
	stack := newTestStack(t, "", "", "", nil)

	resp, err := http.Get(stack.ts.URL + "/nope")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	decodeInto(t, resp, &errResp)
	assert.Equal(t, "NOT_FOUND", errResp.Error)
}
