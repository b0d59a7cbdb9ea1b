package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// runTimeLayout is fixed-width so that text ordering on started_at matches
// chronological ordering.
const runTimeLayout = "2006-01-02T15:04:05.000000Z"

// RecordPipelineRun writes a lineage row keyed by run ID. An existing row with
// the same run ID is overwritten (last write wins).
func (s *Store) RecordPipelineRun(ctx context.Context, run PipelineRun) error {
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: run.FinishedAt.UTC().Format(runTimeLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, stage, record_count, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			stage = excluded.stage,
			record_count = excluded.record_count,
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		run.RunID, run.Stage, run.RecordCount, run.Status,
		run.StartedAt.UTC().Format(runTimeLayout), finished,
	)
	if err != nil {
		return fmt.Errorf("recording pipeline run %s: %w", run.RunID, err)
	}
	return nil
}

// GetPipelineRun returns the lineage row for runID, or ErrNotFound.
func (s *Store) GetPipelineRun(ctx context.Context, runID string) (PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, stage, record_count, status, started_at, finished_at
		FROM pipeline_runs WHERE run_id = ?`, runID)
	r, err := scanPipelineRun(row)
	if err == sql.ErrNoRows {
		return PipelineRun{}, ErrNotFound
	}
	return r, err
}

// RecentPipelineRuns returns up to limit lineage rows, newest first.
func (s *Store) RecentPipelineRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, stage, record_count, status, started_at, finished_at
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipelineRun(sc rowScanner) (PipelineRun, error) {
	var r PipelineRun
	var startedAt string
	var finishedAt sql.NullString
	if err := sc.Scan(&r.RunID, &r.Stage, &r.RecordCount, &r.Status, &startedAt, &finishedAt); err != nil {
		return PipelineRun{}, err
	}
	t, err := time.Parse(runTimeLayout, startedAt)
	if err != nil {
		return PipelineRun{}, fmt.Errorf("parsing started_at for run %s: %w", r.RunID, err)
	}
	r.StartedAt = t
	if finishedAt.Valid {
		f, err := time.Parse(runTimeLayout, finishedAt.String)
		if err != nil {
			return PipelineRun{}, fmt.Errorf("parsing finished_at for run %s: %w", r.RunID, err)
		}
		r.FinishedAt = &f
	}
	return r, nil
}
