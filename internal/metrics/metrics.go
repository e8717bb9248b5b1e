// Package metrics exposes gateway counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rpcwarden"

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	forward      prometheus.Histogram
	rateLimited  prometheus.Counter
	rewards      *prometheus.CounterVec
	inFlight     prometheus.Gauge
	historyEvict prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls by final or held status.",
		}, []string{"status"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_verdicts_total",
			Help:      "Risk verdicts by source and level.",
		}, []string{"source", "level"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and rule.",
		}, []string{"outcome", "rule"}),
		forward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Latency of upstream forwarding.",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limiter.",
		}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rewards_total",
			Help:      "Significance reward attempts by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_in_flight",
			Help:      "Calls currently inside the admission pipeline.",
		}),
		historyEvict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "Calls evicted from the bounded history.",
		}),
	}
	reg.MustRegister(
		m.calls, m.verdicts, m.decisions, m.forward, m.rateLimited,
		m.rewards, m.inFlight, m.historyEvict,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Call counts a call reaching status.
func (m *Metrics) Call(status string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(status).Inc()
}

// Verdict counts a risk verdict.
func (m *Metrics) Verdict(source, level string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(source, level).Inc()
}

// Decision counts an admission decision.
func (m *Metrics) Decision(outcome, rule string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, rule).Inc()
}

// Forward observes one upstream round trip.
func (m *Metrics) Forward(d time.Duration) {
	if m == nil {
		return
	}
	m.forward.Observe(d.Seconds())
}

// RateLimited counts a refused request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Reward counts a reward attempt; result is "paid" or an error class.
func (m *Metrics) Reward(result string) {
	if m == nil {
		return
	}
	m.rewards.WithLabelValues(result).Inc()
}

// PipelineEnter marks a call entering the pipeline.
func (m *Metrics) PipelineEnter() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// PipelineExit marks a call leaving the pipeline.
func (m *Metrics) PipelineExit() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// Evicted counts a history eviction.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.historyEvict.Inc()
}
