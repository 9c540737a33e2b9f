// Package metrics exposes Prometheus collectors for the refresh loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the monitor's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ticks           prometheus.Counter
	publishFailures prometheus.Counter
	queries         prometheus.Counter
	sources         prometheus.Gauge
	tickDuration    prometheus.Histogram
}

// New creates the collectors and registers them on reg.
// It panics if a collector with the same name is already registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbmon_ticks_total",
			Help: "Completed generate-merge-publish cycles.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbmon_publish_failures_total",
			Help: "Publishes that returned an error or panicked.",
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbmon_queries_generated_total",
			Help: "Simulated query samples generated across all sources.",
		}),
		sources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbmon_sources_tracked",
			Help: "Sources currently held in the rolling history.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbmon_tick_duration_seconds",
			Help:    "Wall time spent generating, merging and publishing one tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(m.ticks, m.publishFailures, m.queries, m.sources, m.tickDuration)
	return m
}

// ObserveTick records one completed tick.
func (m *Metrics) ObserveTick(seconds float64, queries int, sources int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.queries.Add(float64(queries))
	m.sources.Set(float64(sources))
	m.tickDuration.Observe(seconds)
}

// PublishFailed records one failed publish.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
