package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomePersisted = "persisted"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
)

// Metrics holds Prometheus metrics for audit consumption.
type Metrics struct {
	Processed   *prometheus.CounterVec
	SaveLatency prometheus.Histogram
	Lag         prometheus.Histogram
}

// NewMetrics registers consumer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wms_audit_consumed_total",
			Help: "Total number of audit messages handled, by outcome",
		}, []string{"outcome"}),
		SaveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wms_audit_save_duration_seconds",
			Help:    "Time spent persisting one audit entry",
			Buckets: prometheus.DefBuckets,
		}),
		Lag: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wms_audit_pipeline_lag_seconds",
			Help:    "Delay between a mutation occurring and its audit entry being persisted",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900},
		}),
	}
}
