package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments connection-lifecycle events, separate from the
// store's dispatch-level counters.
type Metrics struct {
	Reconnects   prometheus.Counter
	ErrorsByCode *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_transport_reconnects_total",
			Help: "Number of reconnect attempts started after an unexpected close.",
		}),
		ErrorsByCode: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_transport_errors_total",
			Help: "Number of server error frames received, by code.",
		}, []string{"code"}),
	}
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) recordErrorCode(code string) {
	if m == nil {
		return
	}
	m.ErrorsByCode.WithLabelValues(code).Inc()
}
