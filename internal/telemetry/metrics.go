package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors. user_id is never a label; it
// stays in the log records only.
type Metrics struct {
	latency   *prometheus.HistogramVec
	anomalies *prometheus.CounterVec
	runs      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hybridrec",
			Name:      "operation_duration_seconds",
			Help:      "Latency of external calls made by the pipeline and retrieval paths.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hybridrec",
			Name:      "anomalies_total",
			Help:      "Non-fatal anomalies by type.",
		}, []string{"type"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hybridrec",
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by status.",
		}, []string{"status"}),
	}
}
