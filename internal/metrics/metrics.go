// Package metrics holds the Prometheus instruments for the governance engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Decision metrics
	ToolCalls       *prometheus.CounterVec
	DecisionLatency *prometheus.HistogramVec

	// Approval metrics
	Resolutions *prometheus.CounterVec

	// Dispatch metrics
	Dispatch         *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Sink metrics
	SinkQueueDepth *prometheus.GaugeVec
	SinkDeliveries *prometheus.CounterVec

	// Reload metrics
	Reloads *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tool_calls_total",
				Help: "Total tool calls proposed, by tool and decision",
			},
			[]string{"tool", "decision"},
		),

		DecisionLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_decision_latency_ms",
				Help:    "Time from proposal to returned decision in milliseconds",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"decision"},
		),

		Resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_approval_resolutions_total",
				Help: "Approval resolutions, by outcome",
			},
			[]string{"outcome"}, // approved, denied, conflict
		),

		Dispatch: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_dispatch_total",
				Help: "Backend dispatches, by server and outcome",
			},
			[]string{"server", "outcome"}, // ok, error, timeout, unresolved
		),

		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_dispatch_duration_seconds",
				Help:    "Backend dispatch duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),

		SinkQueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_sink_queue_depth",
				Help: "Events waiting in each audit sink queue",
			},
			[]string{"sink"},
		),

		SinkDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_sink_deliveries_total",
				Help: "Audit sink delivery attempts, by sink and outcome",
			},
			[]string{"sink", "outcome"}, // ok, retry, dropped
		),

		Reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_config_reloads_total",
				Help: "Hot reloads of policy and citation graph, by result",
			},
			[]string{"kind", "result"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveDecision counts a proposal and its latency.
func (m *Metrics) ObserveDecision(tool, decision string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, decision).Inc()
	m.DecisionLatency.WithLabelValues(decision).Observe(float64(elapsed.Microseconds()) / 1000)
}

// ObserveResolution counts an approve/deny outcome.
func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// ObserveDispatch counts a backend dispatch.
func (m *Metrics) ObserveDispatch(server, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Dispatch.WithLabelValues(server, outcome).Inc()
	m.DispatchDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

// SetQueueDepth records the backlog of a sink queue.
func (m *Metrics) SetQueueDepth(sink string, depth int) {
	if m == nil {
		return
	}
	m.SinkQueueDepth.WithLabelValues(sink).Set(float64(depth))
}

// ObserveDelivery counts a sink delivery attempt.
func (m *Metrics) ObserveDelivery(sink, outcome string) {
	if m == nil {
		return
	}
	m.SinkDeliveries.WithLabelValues(sink, outcome).Inc()
}

// ObserveReload counts a hot reload.
func (m *Metrics) ObserveReload(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reloads.WithLabelValues(kind, result).Inc()
}
