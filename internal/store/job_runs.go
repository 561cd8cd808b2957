package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("job run not found")

// JobRunStatus mirrors the job_runs status column.
type JobRunStatus string

// Job run statuses persisted in job_runs.status.
const (
	RunRunning JobRunStatus = "running"
	RunSuccess JobRunStatus = "success"
	RunSkipped JobRunStatus = "skipped"
	RunError   JobRunStatus = "error"
)

// Valid reports whether s is a known status.
func (s JobRunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunSkipped, RunError:
		return true
	default:
		return false
	}
}

// JobRun models the job_runs table for API responses.
type JobRun struct {
	ID string `json:"id"`
	// Job is the registry name, e.g. daily-export or weekly-cleanup.
	Job       string    `json:"job"`
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run completes.
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Status       JobRunStatus `json:"status"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	// Detail is a short human summary such as "12 reports archived".
	Detail string `json:"detail,omitempty"`
}

// RunFilter narrows ListRuns. Nil fields match everything.
type RunFilter struct {
	Job    *string
	Status *JobRunStatus
}

// JobRunRepository persists batch job history.
type JobRunRepository interface {
	// StartRun inserts a row in running status.
	StartRun(ctx context.Context, run JobRun) error
	// CompleteRun marks the run finished with the provided status, error and detail.
	CompleteRun(
		ctx context.Context,
		id string,
		finishedAt time.Time,
		status JobRunStatus,
		errMsg *string,
		detail string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (JobRun, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]JobRun, error)
}
