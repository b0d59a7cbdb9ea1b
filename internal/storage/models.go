package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobTypePipelineRun is the job type for asynchronously queued pipeline runs.
const JobTypePipelineRun = "pipeline_run"

// Pipeline run statuses.
const (
	RunSuccess = "success"
	RunFailed  = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// PipelineRun is one lineage row. RunID is the primary key; a second write
// with the same RunID replaces the first.
type PipelineRun struct {
	RunID       string     `json:"run_id"`
	Stage       string     `json:"stage"`
	RecordCount int        `json:"record_count"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

// CampaignEngagement is the summed engagement_count of one campaign across users.
type CampaignEngagement struct {
	CampaignID string
	Total      int64
}
