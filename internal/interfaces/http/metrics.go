package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_model/go"

	"github.com/sawpanic/tradegate/internal/domain"
)

// MetricsRegistry holds the Prometheus collectors for one server
// instance. Everything registers against a private registry, so two
// engines in one process (or parallel tests) never collide on the
// default global.
type MetricsRegistry struct {
	registry *prometheus.Registry

	DecisionsTotal    *prometheus.CounterVec
	GateFailures      *prometheus.CounterVec
	ValidationErrors  *prometheus.CounterVec
	SaturationsTotal  prometheus.Counter
	ProviderFallbacks *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ApprovalRate      prometheus.Gauge
}

// NewMetricsRegistry creates the collectors and registers them.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_decisions_total",
				Help: "Admission decisions by verdict",
			},
			[]string{"verdict"},
		),

		GateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_gate_failures_total",
				Help: "Gate failures by gate name",
			},
			[]string{"gate"},
		),

		ValidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_validation_errors_total",
				Help: "Rejected payloads by validation code",
			},
			[]string{"code"},
		),

		SaturationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradegate_saturations_total",
				Help: "Requests shed at the admission ceiling",
			},
		),

		ProviderFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_provider_fallbacks_total",
				Help: "Decisions that used fallback data, by provider",
			},
			[]string{"provider"},
		),

		RequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradegate_request_duration_seconds",
				Help:    "End-to-end webhook handling duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
		),

		ApprovalRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradegate_approval_rate",
				Help: "Approved decisions over all decisions (0.0 to 1.0)",
			},
		),
	}

	m.registry.MustRegister(
		m.DecisionsTotal,
		m.GateFailures,
		m.ValidationErrors,
		m.SaturationsTotal,
		m.ProviderFallbacks,
		m.RequestDuration,
		m.ApprovalRate,
	)
	return m
}

// ObserveDecision records one completed decision: verdict and failed
// gates, fallback usage per provider, and the request duration.
func (m *MetricsRegistry) ObserveDecision(d domain.Decision, elapsed time.Duration) {
	m.DecisionsTotal.WithLabelValues(string(d.Decision)).Inc()
	for _, gate := range d.Gates.Failed {
		m.GateFailures.WithLabelValues(gate).Inc()
	}

	ctx := d.Audit.Context
	if ctx.Options.DataSource == domain.SourceFallback {
		m.ProviderFallbacks.WithLabelValues("options").Inc()
	}
	if ctx.Stats.DataSource == domain.SourceFallback {
		m.ProviderFallbacks.WithLabelValues("stats").Inc()
	}
	if ctx.Liquidity.DataSource == domain.SourceFallback {
		m.ProviderFallbacks.WithLabelValues("liquidity").Inc()
	}

	m.RequestDuration.Observe(elapsed.Seconds())
	m.updateApprovalRate()
}

// RecordValidationError counts a structurally unusable payload.
func (m *MetricsRegistry) RecordValidationError(code string) {
	m.ValidationErrors.WithLabelValues(code).Inc()
}

// RecordSaturation counts a request shed at the ceiling.
func (m *MetricsRegistry) RecordSaturation() {
	m.SaturationsTotal.Inc()
}

// RegisterGauges wires live readouts into the registry. Each callback
// is sampled at scrape time.
func (m *MetricsRegistry) RegisterGauges(inFlight, signals, phases, wsClients func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tradegate_in_flight_requests",
			Help: "Requests currently inside the admission ceiling",
		}, func() float64 { return float64(inFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tradegate_live_signals",
			Help: "Unexpired entries in the timeframe signal store",
		}, func() float64 { return float64(signals()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tradegate_live_phases",
			Help: "Unexpired entries in the phase store",
		}, func() float64 { return float64(phases()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tradegate_ws_clients",
			Help: "Connected decision-stream subscribers",
		}, func() float64 { return float64(wsClients()) }),
	)
}

// updateApprovalRate recomputes the approve/total ratio from the
// decision counters.
func (m *MetricsRegistry) updateApprovalRate() {
	approved := counterValue(m.DecisionsTotal, string(domain.VerdictApprove))
	rejected := counterValue(m.DecisionsTotal, string(domain.VerdictReject))

	total := approved + rejected
	if total > 0 {
		m.ApprovalRate.Set(approved / total)
	}
}

// counterValue reads the current value of one labeled counter.
func counterValue(vec *prometheus.CounterVec, label string) float64 {
	counter, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	metric := &io_prometheus_client.Metric{}
	if err := counter.Write(metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// Handler exposes the instance registry in Prometheus text format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
