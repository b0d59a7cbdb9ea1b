// Package pipeline runs the ingest, embed and store stages for one batch of
// conversation records and records the outcome as lineage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/hybridrec/internal/record"
	"github.com/kalambet/hybridrec/internal/storage"
	"github.com/kalambet/hybridrec/internal/telemetry"
)

// Stage names written to lineage.
const (
	StageIngest   = "ingest"
	StageEmbed    = "embed"
	StageStore    = "store"
	StageFull     = "full_pipeline"
	StagePipeline = "pipeline"
)

// Summary errors for the two empty-stage outcomes.
const (
	errEmptyIngest = "no valid records after ingest"
	errEmptyEmbed  = "no enriched records after embedding"
)

// Embedder produces enriched records.
type Embedder interface {
	Generate(ctx context.Context, recs []record.Canonical, runID, sourceFile string) ([]record.Enriched, error)
}

// Sink persists enriched records.
type Sink interface {
	Store(ctx context.Context, recs []record.Enriched, runID string) error
}

// LineageWriter records the terminal row of a run.
type LineageWriter interface {
	Record(ctx context.Context, run storage.PipelineRun) error
}

// Summary is the outcome of one run. Stages maps each completed stage to the
// number of records that left it.
type Summary struct {
	RunID      string         `json:"run_id"`
	Stages     map[string]int `json:"stages"`
	Status     string         `json:"status"`
	Error      *string        `json:"error"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Failed reports whether the run ended in the failed state.
func (s Summary) Failed() bool { return s.Status == storage.RunFailed }

// Orchestrator drives runs through ingest, embed and store. It never
// returns an error: every failure becomes a failed Summary plus lineage.
type Orchestrator struct {
	validator *record.Validator
	embedder  Embedder
	sink      Sink
	lineage   LineageWriter
	tel       *telemetry.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(v *record.Validator, e Embedder, s Sink, l LineageWriter, tel *telemetry.Recorder) *Orchestrator {
	if tel == nil {
		tel = telemetry.New()
	}
	return &Orchestrator{
		validator: v,
		embedder:  e,
		sink:      s,
		lineage:   l,
		tel:       tel,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run processes already-decoded items.
func (o *Orchestrator) Run(ctx context.Context, items []any, runID, sourceFile string) Summary {
	return o.execute(ctx, runID, sourceFile, func() ([]any, error) { return items, nil })
}

// RunDocument decodes a JSON document and processes it. A parse error fails
// the run.
func (o *Orchestrator) RunDocument(ctx context.Context, data []byte, runID, sourceFile string) Summary {
	return o.execute(ctx, runID, sourceFile, func() ([]any, error) { return record.ParseDocument(data) })
}

// RunFile loads a .json file and processes it. Read, format and parse errors
// fail the run.
func (o *Orchestrator) RunFile(ctx context.Context, path, runID string) Summary {
	return o.execute(ctx, runID, path, func() ([]any, error) { return record.LoadFile(path) })
}

func (o *Orchestrator) execute(ctx context.Context, runID, sourceFile string, load func() ([]any, error)) (sum Summary) {
	if runID == "" {
		runID = uuid.NewString()
	}
	started := o.now()
	sum = Summary{RunID: runID, Stages: map[string]int{}, Status: storage.RunSuccess}

	defer func() {
		if r := recover(); r != nil {
			sum = o.fail(ctx, sum, started, fmt.Errorf("panic: %v", r))
		}
		o.tel.RunFinished(sum.Status)
	}()

	items, err := load()
	if err != nil {
		return o.fail(ctx, sum, started, err)
	}

	o.tel.Stage(StageIngest, runID, "count", len(items))
	recs := o.validator.ValidateBatch(items, runID)
	sum.Stages[StageIngest] = len(recs)
	if len(recs) == 0 {
		o.record(ctx, runID, StageIngest, 0, storage.RunFailed, started)
		return o.empty(sum, errEmptyIngest)
	}

	enriched, err := o.embedder.Generate(ctx, recs, runID, sourceFile)
	if err != nil {
		return o.fail(ctx, sum, started, err)
	}
	sum.Stages[StageEmbed] = len(enriched)
	if len(enriched) == 0 {
		o.tel.Anomaly("empty_embeddings", errEmptyEmbed, "run_id", runID)
		o.record(ctx, runID, StageEmbed, 0, storage.RunFailed, started)
		return o.empty(sum, errEmptyEmbed)
	}

	if err := o.sink.Store(ctx, enriched, runID); err != nil {
		return o.fail(ctx, sum, started, err)
	}

	finished := o.now()
	o.record(ctx, runID, StageFull, len(enriched), storage.RunSuccess, started)
	sum.Stages[StageStore] = len(enriched)
	sum.FinishedAt = &finished

	elapsed := finished.Sub(started)
	o.tel.Stage("pipeline_complete", runID, "status", storage.RunSuccess, "duration_seconds", elapsed.Seconds())
	o.tel.Latency("pipeline_run", elapsed, "run_id", runID, "record_count", len(enriched))
	return sum
}

func (o *Orchestrator) empty(sum Summary, msg string) Summary {
	sum.Status = storage.RunFailed
	sum.Error = &msg
	return sum
}

func (o *Orchestrator) fail(ctx context.Context, sum Summary, started time.Time, err error) Summary {
	msg := err.Error()
	o.tel.Anomaly("pipeline_failed", msg, "run_id", sum.RunID)
	o.record(ctx, sum.RunID, StagePipeline, 0, storage.RunFailed, started)
	o.tel.Latency("pipeline_run", o.now().Sub(started), "run_id", sum.RunID)
	sum.Status = storage.RunFailed
	sum.Error = &msg
	return sum
}

// record writes the lineage row. Its failure is logged and never changes the
// run outcome. Cancellation of ctx does not prevent the write.
func (o *Orchestrator) record(ctx context.Context, runID, stage string, count int, status string, started time.Time) {
	finished := o.now()
	err := o.lineage.Record(context.WithoutCancel(ctx), storage.PipelineRun{
		RunID:       runID,
		Stage:       stage,
		RecordCount: count,
		Status:      status,
		StartedAt:   started,
		FinishedAt:  &finished,
	})
	if err != nil {
		o.logger.Error("recording lineage", "run_id", runID, "stage", stage, "error", err)
	}
}
