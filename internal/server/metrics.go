package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync instrumentation on a private registry so the
// process exposes only its own series.
type Metrics struct {
	registry *prometheus.Registry

	appliedTotal  prometheus.Counter
	failedTotal   prometheus.Counter
	pending       prometheus.Gauge
	drainDuration prometheus.Histogram
}

// NewMetrics registers the sync metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		appliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlog_sync_applied_total",
			Help: "Queued mutations applied to the backend.",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlog_sync_failed_total",
			Help: "Queued mutations that failed to apply.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchlog_sync_pending",
			Help: "Mutations currently waiting in the sync queue.",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchlog_sync_drain_duration_seconds",
			Help:    "Duration of queue drain runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.appliedTotal, m.failedTotal, m.pending, m.drainDuration)
	return m
}

// ObserveRun records the outcome of one drain.
func (m *Metrics) ObserveRun(applied, failed int, seconds float64) {
	m.appliedTotal.Add(float64(applied))
	m.failedTotal.Add(float64(failed))
	m.drainDuration.Observe(seconds)
}

// SetPending updates the queue depth gauge.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
