package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
)

// Metrics holds Prometheus metrics for scheduled jobs.
type Metrics struct {
	Runs          *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	LastSuccess   *prometheus.GaugeVec
	PurgedTotal   prometheus.Counter
	RetentionDays prometheus.Gauge
}

// NewMetrics registers job metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wms_job_runs_total",
			Help: "Total number of scheduled job runs, by job and outcome",
		}, []string{"job", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wms_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wms_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run of each job",
		}, []string{"job"}),
		PurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "wms_audit_retention_deleted_total",
			Help: "Total number of audit entries removed by the retention job",
		}),
		RetentionDays: f.NewGauge(prometheus.GaugeOpts{
			Name: "wms_audit_retention_days",
			Help: "Retention window applied by the last retention run",
		}),
	}
}
