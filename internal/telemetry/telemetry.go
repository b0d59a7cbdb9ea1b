// Package telemetry emits the three observability signals the pipeline and
// retrieval paths produce: stage progress, latency measurements and anomalies.
// Every signal is a structured slog record; latency and anomaly signals are
// also counted in Prometheus when Metrics are attached.
package telemetry

import (
	"log/slog"
	"time"
)

// Anomaly is a non-fatal irregularity reported for observability.
type Anomaly struct {
	Type    string
	Details string
	Attrs   []any
}

// Measurement is one timed external call.
type Measurement struct {
	Operation string
	Latency   time.Duration
	Attrs     []any
}

// Recorder is safe for concurrent use as long as its hooks are.
type Recorder struct {
	logger    *slog.Logger
	metrics   *Metrics
	onAnomaly func(Anomaly)
	onLatency func(Measurement)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithAnomalyHook registers fn to observe every anomaly after it is logged.
func WithAnomalyHook(fn func(Anomaly)) Option {
	return func(r *Recorder) { r.onAnomaly = fn }
}

// WithLatencyHook registers fn to observe every latency measurement.
func WithLatencyHook(fn func(Measurement)) Option {
	return func(r *Recorder) { r.onLatency = fn }
}

// New creates a Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stage logs pipeline progress for a run.
func (r *Recorder) Stage(stage, runID string, attrs ...any) {
	args := append([]any{"stage", stage, "run_id", runID}, attrs...)
	r.logger.Info("pipeline stage", args...)
}

// Anomaly logs a non-fatal irregularity and counts it.
func (r *Recorder) Anomaly(kind, details string, attrs ...any) {
	args := append([]any{"anomaly_type", kind, "details", details}, attrs...)
	r.logger.Warn("anomaly", args...)
	if r.metrics != nil {
		r.metrics.anomalies.WithLabelValues(kind).Inc()
	}
	if r.onAnomaly != nil {
		r.onAnomaly(Anomaly{Type: kind, Details: details, Attrs: attrs})
	}
}

// Latency logs the duration of one operation in milliseconds.
func (r *Recorder) Latency(op string, d time.Duration, attrs ...any) {
	ms := float64(d.Microseconds()) / 1000
	args := append([]any{"operation", op, "latency_ms", ms}, attrs...)
	r.logger.Info("latency", args...)
	if r.metrics != nil {
		r.metrics.latency.WithLabelValues(op).Observe(d.Seconds())
	}
	if r.onLatency != nil {
		r.onLatency(Measurement{Operation: op, Latency: d, Attrs: attrs})
	}
}

// Measure starts a timer and returns the function that stops it:
//
//	defer rec.Measure("graph_campaigns", "user_id", id)()
func (r *Recorder) Measure(op string, attrs ...any) func() {
	start := time.Now()
	return func() {
		r.Latency(op, time.Since(start), attrs...)
	}
}

// RunFinished counts a completed pipeline run by status.
func (r *Recorder) RunFinished(status string) {
	if r.metrics != nil {
		r.metrics.runs.WithLabelValues(status).Inc()
	}
}
