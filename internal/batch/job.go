package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// Job names used for guards, logs and run history.
const (
	DailyExportJob   = "daily-export"
	WeeklyCleanupJob = "weekly-cleanup"
)

// Outcome summarizes a finished job body.
type Outcome struct {
	Status store.JobRunStatus
	Detail string
}

// Job is a named unit of scheduled work. ref selects the day or week to process.
type Job interface {
	Name() string
	Execute(ctx context.Context, ref time.Time) (Outcome, error)
}

// StepError records which step of a job failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
