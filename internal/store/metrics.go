package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the store's Prometheus counters, constructed the way the
// analytics service's instrumentation.Metrics is: a struct of
// promauto-registered handles, built once and threaded through.
type Metrics struct {
	EventsIgnored *prometheus.CounterVec
	GapsDetected  *prometheus.CounterVec
	EventsApplied *prometheus.CounterVec
	BufferSize    *prometheus.GaugeVec
}

// NewMetrics creates and registers the store's metrics against reg. Pass
// a dedicated *prometheus.Registry in tests to avoid collisions with the
// default global registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_events_ignored_total",
			Help: "Events dropped as duplicates, by domain key.",
		}, []string{"domain_key"}),

		GapsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_gaps_detected_total",
			Help: "Sequence gaps detected, by domain key.",
		}, []string{"domain_key"}),

		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_events_applied_total",
			Help: "Events successfully applied to a projection, by domain key.",
		}, []string{"domain_key"}),

		BufferSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_delta_buffer_size",
			Help: "Current size of the per-stream delta buffer, by domain key.",
		}, []string{"domain_key"}),
	}
}

func (m *Metrics) recordIgnored(domainKey string) {
	if m == nil {
		return
	}
	m.EventsIgnored.WithLabelValues(domainKey).Inc()
}

func (m *Metrics) recordGap(domainKey string) {
	if m == nil {
		return
	}
	m.GapsDetected.WithLabelValues(domainKey).Inc()
}

func (m *Metrics) recordApplied(domainKey string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(domainKey).Inc()
}

func (m *Metrics) setBufferSize(domainKey string, size int) {
	if m == nil {
		return
	}
	m.BufferSize.WithLabelValues(domainKey).Set(float64(size))
}
