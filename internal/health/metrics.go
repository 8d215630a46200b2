package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns the process's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	cacheOps    *prometheus.CounterVec
	probes      *prometheus.CounterVec
	probeTime   *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	corpusDocs  prometheus.Gauge
	corpusEpoch prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runhub",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and outcome status.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runhub",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency by tool name.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"tool"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runhub",
			Name:      "cache_operations_total",
			Help:      "Cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runhub",
			Name:      "adapter_probes_total",
			Help:      "Adapter health probes by source and outcome.",
		}, []string{"adapter", "outcome"}),
		probeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runhub",
			Name:      "adapter_probe_duration_seconds",
			Help:      "Adapter health probe latency by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"adapter"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runhub",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by upstream and target state.",
		}, []string{"upstream", "to"}),
		corpusDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runhub",
			Name:      "corpus_documents",
			Help:      "Documents in the current corpus snapshot.",
		}),
		corpusEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runhub",
			Name:      "corpus_epoch",
			Help:      "Current corpus epoch.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolCalls, m.toolLatency, m.cacheOps,
		m.probes, m.probeTime, m.transitions,
		m.corpusDocs, m.corpusEpoch,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveCache records one cache lookup outcome for a tier.
func (m *Metrics) ObserveCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheOps.WithLabelValues(tier, outcome).Inc()
}

// ObserveProbe records one adapter health probe.
func (m *Metrics) ObserveProbe(adapterName string, ok bool, d time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.probes.WithLabelValues(adapterName, outcome).Inc()
	m.probeTime.WithLabelValues(adapterName).Observe(d.Seconds())
}

// BreakerTransition records a circuit breaker state change. Wired to
// breaker.OnTransition during bootstrap.
func (m *Metrics) BreakerTransition(upstream, to string) {
	m.transitions.WithLabelValues(upstream, to).Inc()
}

// SetCorpus records the current corpus epoch and size.
func (m *Metrics) SetCorpus(epoch uint64, documents int) {
	m.corpusEpoch.Set(float64(epoch))
	m.corpusDocs.Set(float64(documents))
}
