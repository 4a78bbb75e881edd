package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the atomic counters spec.md §3 names for a pool plus the
// prometheus vectors they're exported through, grouped by capability label
// so one collector serves all three pools.
type Metrics struct {
	RequestCount      *prometheus.CounterVec
	TotalErrors       *prometheus.CounterVec
	TotalTimeouts     *prometheus.CounterVec
	CircuitRejections *prometheus.CounterVec
	ReservedMiB       *prometheus.GaugeVec
	QueueDepth        *prometheus.GaugeVec
}

// NewMetrics registers a fresh Metrics set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "requests_total",
			Help:      "Total admission attempts per capability and model key, rejected ones included.",
		}, []string{"capability", "model_key"}),
		TotalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "errors_total",
			Help:      "Total request errors per capability and model key.",
		}, []string{"capability", "model_key"}),
		TotalTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "timeouts_total",
			Help:      "Total request timeouts per capability and model key.",
		}, []string{"capability", "model_key"}),
		CircuitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "circuit_rejections_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"capability", "model_key"}),
		ReservedMiB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "reserved_mib",
			Help:      "Currently reserved memory in MiB per capability and model key.",
		}, []string{"capability", "model_key"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "infercore",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Number of registered (not necessarily alive) workers per capability and model key.",
		}, []string{"capability", "model_key"}),
	}
	reg.MustRegister(m.RequestCount, m.TotalErrors, m.TotalTimeouts, m.CircuitRejections, m.ReservedMiB, m.QueueDepth)
	return m
}
