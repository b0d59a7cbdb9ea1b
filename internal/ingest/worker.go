// Package ingest runs queued pipeline jobs in the background.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/hybridrec/internal/pipeline"
	"github.com/kalambet/hybridrec/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Runner executes one pipeline run over a JSON document.
type Runner interface {
	RunDocument(ctx context.Context, data []byte, runID, sourceFile string) pipeline.Summary
}

// Payload is the body of a pipeline_run job.
type Payload struct {
	RunID      string          `json:"run_id"`
	SourceFile string          `json:"source_file,omitempty"`
	Document   json.RawMessage `json:"document"`
}

// Enqueue queues document for an asynchronous run and returns the run and
// job ids. An empty runID gets a fresh one.
func Enqueue(store JobStore, document []byte, runID, sourceFile string) (string, string, error) {
	if len(document) == 0 || !json.Valid(document) {
		return "", "", errors.New("document must be valid JSON")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	body, err := json.Marshal(Payload{RunID: runID, SourceFile: sourceFile, Document: document})
	if err != nil {
		return "", "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        storage.JobTypePipelineRun,
		PayloadJSON: string(body),
	}
	if err := store.EnqueueJob(job); err != nil {
		return "", "", fmt.Errorf("enqueueing run %s: %w", runID, err)
	}
	return runID, job.ID, nil
}

// Worker processes pipeline_run jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	runner Runner
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, runner Runner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		runner: runner,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single pipeline_run job.
// Returns true if a job was processed (regardless of success/failure).
//
// A run that ends in the failed state still completes its job: the failure
// is already recorded as lineage, and rerunning the same document would
// duplicate the stores written before the failing stage. Only undecodable
// payloads go through the retry path.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypePipelineRun})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, fmt.Sprintf("parsing payload: %v", err)); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	sum := w.runner.RunDocument(ctx, payload.Document, payload.RunID, payload.SourceFile)
	if sum.Failed() {
		msg := ""
		if sum.Error != nil {
			msg = *sum.Error
		}
		w.logger.Warn("pipeline run failed", "job_id", job.ID, "run_id", sum.RunID, "error", msg)
	} else {
		w.logger.Info("pipeline run finished", "job_id", job.ID, "run_id", sum.RunID, "stages", sum.Stages)
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}
