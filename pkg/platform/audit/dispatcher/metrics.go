package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label.
const (
	ReasonInvalid     = "invalid"
	ReasonEncode      = "encode"
	ReasonTransport   = "transport"
	ReasonCircuitOpen = "circuit_open"
	ReasonBufferFull  = "buffer_full"
	ReasonClosed      = "closed"
)

// Metrics holds Prometheus metrics for audit dispatch.
type Metrics struct {
	Dispatched   prometheus.Counter
	Dropped      *prometheus.CounterVec
	EnqueueTime  prometheus.Histogram
	BreakerState prometheus.Gauge
}

// NewMetrics registers dispatcher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Dispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "wms_audit_dispatched_total",
			Help: "Total number of audit events accepted by the queue transport",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wms_audit_dispatch_dropped_total",
			Help: "Total number of audit events dropped before reaching the queue transport",
		}, []string{"reason"}),
		EnqueueTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wms_audit_enqueue_duration_seconds",
			Help:    "Time spent publishing one audit event to the queue transport",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "wms_audit_dispatch_circuit_open",
			Help: "Dispatcher circuit breaker state (0=closed, 1=open)",
		}),
	}
}

// IncDropped increments the dropped counter for reason.
func (m *Metrics) IncDropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

// SetBreakerOpen records the breaker position.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
