// Package lineage records one row per pipeline run outcome and summarises
// recent runs for observability.
package lineage

import (
	"context"
	"log/slog"
	"math"

	"github.com/kalambet/hybridrec/internal/storage"
)

// DefaultSummaryLimit is the number of runs Report inspects.
const DefaultSummaryLimit = 10

// RunStore is the analytic-store subset lineage needs.
type RunStore interface {
	RecordPipelineRun(ctx context.Context, run storage.PipelineRun) error
	RecentPipelineRuns(ctx context.Context, limit int) ([]storage.PipelineRun, error)
}

// RunSummary is a lineage row with its wall-clock latency.
type RunSummary struct {
	storage.PipelineRun
	// LatencySeconds is finished_at - started_at rounded to 2 decimals, or
	// nil while the run has no finish time.
	LatencySeconds *float64 `json:"latency_seconds"`
}

// Anomaly is an irregularity found in the lineage history.
type Anomaly struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Stage string `json:"stage,omitempty"`
}

// Report is the observability view over recent runs.
type Report struct {
	Runs      []RunSummary `json:"runs"`
	Anomalies []Anomaly    `json:"anomalies"`
}

// Recorder writes lineage rows and reads them back as summaries.
type Recorder struct {
	store  RunStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default().
func NewRecorder(store RunStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record upserts run keyed by its run id; a second write for the same id
// replaces the first.
func (r *Recorder) Record(ctx context.Context, run storage.PipelineRun) error {
	return r.store.RecordPipelineRun(ctx, run)
}

// Summaries returns up to limit runs, newest first.
func (r *Recorder) Summaries(ctx context.Context, limit int) ([]RunSummary, error) {
	runs, err := r.store.RecentPipelineRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, run := range runs {
		out[i] = RunSummary{PipelineRun: run}
		if run.FinishedAt != nil && !run.StartedAt.IsZero() {
			secs := round2(run.FinishedAt.Sub(run.StartedAt).Seconds())
			out[i].LatencySeconds = &secs
		}
	}
	return out, nil
}

// DetectAnomalies flags failed runs, runs that ended with no embeddings and
// successful runs that processed nothing. One run may yield several anomalies.
func DetectAnomalies(runs []RunSummary) []Anomaly {
	var out []Anomaly
	for _, run := range runs {
		if run.Status == storage.RunFailed {
			out = append(out, Anomaly{Type: "failed_run", RunID: run.RunID, Stage: run.Stage})
		}
		if run.RecordCount == 0 && (run.Stage == "embed" || run.Stage == "full_pipeline") {
			out = append(out, Anomaly{Type: "empty_embeddings", RunID: run.RunID})
		}
		if run.Status == storage.RunSuccess && run.RecordCount == 0 {
			out = append(out, Anomaly{Type: "zero_records_success", RunID: run.RunID, Stage: run.Stage})
		}
	}
	return out
}

// Report loads the most recent runs, logs each one plus latency aggregates
// and the detected anomalies, and returns them.
func (r *Recorder) Report(ctx context.Context, limit int) (Report, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	runs, err := r.Summaries(ctx, limit)
	if err != nil {
		return Report{}, err
	}
	anomalies := DetectAnomalies(runs)

	var sum, max float64
	var n int
	for _, run := range runs {
		r.logger.Info("pipeline_run",
			"run_id", run.RunID,
			"stage", run.Stage,
			"record_count", run.RecordCount,
			"status", run.Status,
			"latency_seconds", run.LatencySeconds,
		)
		if run.LatencySeconds != nil {
			sum += *run.LatencySeconds
			max = math.Max(max, *run.LatencySeconds)
			n++
		}
	}
	if n > 0 {
		r.logger.Info("pipeline_latency", "avg_seconds", round2(sum/float64(n)), "max_seconds", round2(max), "run_count", n)
	}
	r.logger.Info("observability_summary", "runs", len(runs), "anomalies", len(anomalies))

	if anomalies == nil {
		anomalies = []Anomaly{}
	}
	return Report{Runs: runs, Anomalies: anomalies}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
