package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// goodMarketServers stands up three providers whose data passes every
// gate: tight spread, calm volatility, supportive gamma.
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

// newTestEngine wires a full engine; empty URLs leave that provider
// disabled so it serves its fallback.
func newTestEngine(t *testing.T, optionsURL, statsURL, liquidityURL string, mutate func(*config.Config)) (*Engine, *telemetry.Tracker) {
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

	eng := New(Deps{
		Config:  frozen,
		Builder: builder,
		Signals: store.NewSignalStore(),
		Phases:  store.NewPhaseStore(),
		Tracker: tracker,
	})
	return eng, tracker
}

func approveRaw() map[string]any {
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

func TestDecide_ApproveEndToEnd(t *testing.T) {
	optSrv, statSrv, liqSrv := goodMarketServers(t)
	eng, _ := newTestEngine(t, optSrv.URL, statSrv.URL, liqSrv.URL, nil)

	decision, err := eng.Decide(context.Background(), approveRaw())

	require.NoError(t, err)
	assert.Equal(t, domain.VerdictApprove, decision.Decision)
	assert.Equal(t, domain.EngineVersion, decision.EngineVersion)
	assert.Equal(t, domain.SignalLong, decision.Direction)
	require.NotNil(t, decision.Confidence)
	assert.InDelta(t, 9.3, *decision.Confidence, 1e-9) // 8.5 + 0.5 phase + 0.3 spread
	assert.Empty(t, decision.Reasons)
	assert.Equal(t, domain.GateOrder(), decision.Gates.Passed)
	assert.Empty(t, decision.Gates.Failed)

	audit := decision.Audit
	assert.Equal(t, "SPY", audit.Symbol)
	assert.Equal(t, domain.SessionOpen, audit.Session)
	require.Len(t, audit.GateResults, 5)
	assert.Equal(t, domain.SourceAPI, audit.Context.Liquidity.DataSource)
	assert.Greater(t, audit.ProcessingTimeMS, 0.0)

	_, err = time.Parse(time.RFC3339Nano, audit.Timestamp)
	assert.NoError(t, err, "audit timestamp must be RFC3339")
}

func TestDecide_RejectCollectsEveryFailedGate(t *testing.T) {
	optSrv, statSrv, _ := goodMarketServers(t)
	wideSpread := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"spread_bps": 25, "depth_score": 40, "trade_velocity": "SLOW"}`))
	}))
	defer wideSpread.Close()

	eng, _ := newTestEngine(t, optSrv.URL, statSrv.URL, wideSpread.URL, nil)

	raw := approveRaw()
	raw["satyPhase"] = map[string]any{"phase": 10} // below the phase magnitude floor

	decision, err := eng.Decide(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, domain.VerdictReject, decision.Decision)
	assert.Empty(t, decision.Direction)
	assert.Nil(t, decision.Confidence)
	assert.Equal(t, []domain.GateReason{domain.ReasonSpreadTooWide, domain.ReasonPhaseConfidenceLow}, decision.Reasons)
	assert.Equal(t, []string{domain.GateSpread, domain.GatePhase}, decision.Gates.Failed)
	require.Len(t, decision.Audit.GateResults, 5)
}

func TestDecide_AllProvidersDownRejectsOnSpread(t *testing.T) {
	eng, _ := newTestEngine(t, "", "", "", nil)

	decision, err := eng.Decide(context.Background(), approveRaw())

	require.NoError(t, err)
	assert.Equal(t, domain.VerdictReject, decision.Decision)
	assert.Contains(t, decision.Reasons, domain.ReasonSpreadTooWide)
	assert.Equal(t, domain.SourceFallback, decision.Audit.Context.Liquidity.DataSource)
	assert.Equal(t, 999.0, decision.Audit.Context.Liquidity.SpreadBPS)
}

func TestDecide_ValidationErrorCountsAsFailure(t *testing.T) {
	eng, tracker := newTestEngine(t, "", "", "", nil)

	raw := approveRaw()
	delete(raw["signal"].(map[string]any), "type")

	_, err := eng.Decide(context.Background(), raw)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.CodeMissingField, verr.Code)
	assert.Equal(t, "signal.type", verr.Field)
	assert.Greater(t, tracker.ErrorRate(), 0.0)
}

func TestDecide_RejectIsNotAnError(t *testing.T) {
	eng, tracker := newTestEngine(t, "", "", "", nil)

	_, err := eng.Decide(context.Background(), approveRaw())

	require.NoError(t, err)
	assert.Equal(t, 0.0, tracker.ErrorRate())
}

func TestDecide_Deterministic(t *testing.T) {
	optSrv, statSrv, liqSrv := goodMarketServers(t)
	eng, _ := newTestEngine(t, optSrv.URL, statSrv.URL, liqSrv.URL, nil)

	first, err := eng.Decide(context.Background(), approveRaw())
	require.NoError(t, err)
	second, err := eng.Decide(context.Background(), approveRaw())
	require.NoError(t, err)

	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Direction, second.Direction)
	assert.Equal(t, first.Gates, second.Gates)
	assert.Equal(t, first.Reasons, second.Reasons)
	require.NotNil(t, second.Confidence)
	assert.Equal(t, *first.Confidence, *second.Confidence)
}

func TestDecide_SaturationShedsAtTheDoor(t *testing.T) {
	optSrv, statSrv, _ := goodMarketServers(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		w.Write([]byte(`{"spread_bps": 4.0, "depth_score": 90, "trade_velocity": "FAST"}`))
	}))
	defer slow.Close()

	eng, _ := newTestEngine(t, optSrv.URL, statSrv.URL, slow.URL, func(c *config.Config) {
		c.Envelope.MaxConcurrent = 1
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := eng.Decide(context.Background(), approveRaw())
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return eng.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	_, err := eng.Decide(context.Background(), approveRaw())
	assert.ErrorIs(t, err, admission.ErrSaturated)
	assert.Equal(t, 250, eng.RetryAfterMS())

	wg.Wait()
}

func TestDecide_SignalExtrasEnrichStoreAndAudit(t *testing.T) {
	optSrv, statSrv, liqSrv := goodMarketServers(t)
	eng, _ := newTestEngine(t, optSrv.URL, statSrv.URL, liqSrv.URL, nil)

	raw := approveRaw()
	raw["timeframe"] = 60
	raw["quality"] = "EXTREME"

	decision, err := eng.Decide(context.Background(), raw)

	require.NoError(t, err)
	snapshot := eng.SignalSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.TF60, snapshot[0].Key)
	assert.Equal(t, domain.QualityExtreme, snapshot[0].Payload.Quality)

	require.NotNil(t, decision.Audit.Timeframes)
	require.Len(t, decision.Audit.Timeframes.Signals, 1)
	assert.Equal(t, domain.TF60, decision.Audit.Timeframes.Signals[0].Timeframe)
}

func TestDecide_NoExtrasMeansNoTimeframeContext(t *testing.T) {
	eng, _ := newTestEngine(t, "", "", "", nil)

	decision, err := eng.Decide(context.Background(), approveRaw())

	require.NoError(t, err)
	assert.Nil(t, decision.Audit.Timeframes)
}

func TestDecide_RecentKeepsNewestFirst(t *testing.T) {
	eng, _ := newTestEngine(t, "", "", "", nil)

	for _, symbol := range []string{"SPY", "QQQ", "IWM"} {
		raw := approveRaw()
		raw["signal"].(map[string]any)["symbol"] = symbol
		_, err := eng.Decide(context.Background(), raw)
		require.NoError(t, err)
	}

	recent := eng.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "IWM", recent[0].Audit.Symbol)
	assert.Equal(t, "QQQ", recent[1].Audit.Symbol)
}

func TestIngestPhase_AcceptAndSupersede(t *testing.T) {
	eng, _ := newTestEngine(t, "", "", "", nil)

	base := time.Now().UnixMilli()
	raw := map[string]any{
		"phase":     72.4,
		"symbol":    "SPY",
		"tf_role":   "SETUP",
		"event_tf":  "30M",
		"timestamp": base,
	}

	stored, accepted, err := eng.IngestPhase(raw)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 72, stored.Payload.Phase)

	// An older reading for the same slot is a replay and must lose.
	stale := map[string]any{
		"phase":     -10,
		"symbol":    "SPY",
		"tf_role":   "SETUP",
		"event_tf":  "30M",
		"timestamp": base - 60_000,
	}
	stored, accepted, err = eng.IngestPhase(stale)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 72, stored.Payload.Phase)

	snapshot := eng.PhaseSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.RoleSetup, snapshot[0].Key.Role)
}

func TestIngestPhase_BadPayload(t *testing.T) {
	eng, _ := newTestEngine(t, "", "", "", nil)

	_, _, err := eng.IngestPhase(map[string]any{"symbol": "SPY"})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "phase", verr.Field)
}

func TestDecide_SinksReceiveEveryDecision(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.Decision
	sink := sinkFunc(func(d domain.Decision) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	})

	cfg := config.Default()
	frozen, err := config.Freeze(cfg)
	require.NoError(t, err)

	tracker := telemetry.NewTracker(frozen.Envelope())
	fb := frozen.Fallbacks()
	builder := market.NewBuilder(
		providers.NewOptionsClient(frozen.Providers().Options, fb.OptionsData(), providers.NewMemoryCache()),
		providers.NewStatsClient(frozen.Providers().Stats, fb.StatsData(), providers.NewMemoryCache()),
		providers.NewLiquidityClient(frozen.Providers().Liquidity, fb.LiquidityData(), providers.NewMemoryCache()),
		frozen.Engine().ProviderTimeout(), tracker.Stages())

	eng := New(Deps{
		Config:  frozen,
		Builder: builder,
		Signals: store.NewSignalStore(),
		Phases:  store.NewPhaseStore(),
		Tracker: tracker,
		Sinks:   []DecisionSink{sink},
	})

	_, err = eng.Decide(context.Background(), approveRaw())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, domain.VerdictReject, seen[0].Decision)
}

type sinkFunc func(domain.Decision)

func (f sinkFunc) Consume(d domain.Decision) { f(d) }
