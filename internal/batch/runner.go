package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/metrics"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// Runner executes jobs under the registry guard and records their history.
type Runner struct {
	registry *Registry
	runs     store.JobRunRepository
	clock    patrol.Clock
	ids      patrol.IDGenerator
	logger   *zap.Logger
}

// NewRunner constructs a Runner. runs may be nil to skip run history.
func NewRunner(
	registry *Registry,
	runs store.JobRunRepository,
	clock patrol.Clock,
	ids patrol.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{registry: registry, runs: runs, clock: clock, ids: ids, logger: logger.Named("batch")}
}

// Registry exposes the guard registry.
func (r *Runner) Registry() *Registry { return r.registry }

// ErrAlreadyRunning is returned by Run when the job's guard is held.
var ErrAlreadyRunning = errors.New("job is already running")

// Trigger runs job for ref unless it is already running. It reports whether
// the job body ran. Failures and panics are logged and recorded, never returned.
func (r *Runner) Trigger(ctx context.Context, job Job, ref time.Time) bool {
	_, err := r.Run(ctx, job, ref)
	return !errors.Is(err, ErrAlreadyRunning)
}

// Run executes job for ref under its guard and records the run. A panic in the
// job body is returned as a StepError for step "panic".
func (r *Runner) Run(ctx context.Context, job Job, ref time.Time) (Outcome, error) {
	name := job.Name()
	if !r.registry.TryAcquire(name) {
		r.logger.Warn("job still running, skipping trigger", zap.String("job", name), zap.Time("ref", ref))
		return Outcome{}, fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}
	defer r.registry.Release(name)
	metrics.SetJobRunning(name, true)
	defer metrics.SetJobRunning(name, false)

	started := r.clock.Now()
	runID := r.startRun(ctx, name, started)
	logger := r.logger.With(zap.String("job", name), zap.String("run_id", runID), zap.Time("ref", ref))
	logger.Info("job started")

	outcome, err := r.execute(ctx, job, ref)
	finished := r.clock.Now()
	if err != nil {
		outcome.Status = store.RunError
		step := "run"
		var se *StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		logger.Error("job failed",
			zap.String("step", step),
			zap.Time("failed_at", finished),
			zap.Duration("elapsed", finished.Sub(started)),
			zap.Error(err),
		)
	} else {
		if outcome.Status == "" {
			outcome.Status = store.RunSuccess
		}
		logger.Info("job finished",
			zap.String("status", string(outcome.Status)),
			zap.String("detail", outcome.Detail),
			zap.Duration("elapsed", finished.Sub(started)),
		)
	}
	metrics.ObserveJobRun(name, string(outcome.Status), finished.Sub(started))
	r.completeRun(runID, finished, outcome, err)
	return outcome, err
}

func (r *Runner) execute(ctx context.Context, job Job, ref time.Time) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked",
				zap.String("job", job.Name()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &StepError{Step: "panic", Err: fmt.Errorf("%v", p)}
		}
	}()
	return job.Execute(ctx, ref)
}

func (r *Runner) startRun(ctx context.Context, name string, started time.Time) string {
	if r.runs == nil || r.ids == nil {
		return ""
	}
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("failed to allocate job run id", zap.String("job", name), zap.Error(err))
		return ""
	}
	if err := r.runs.StartRun(ctx, store.JobRun{ID: id, Job: name, StartedAt: started, Status: store.RunRunning}); err != nil {
		r.logger.Warn("failed to record job start", zap.String("job", name), zap.Error(err))
		return ""
	}
	return id
}

func (r *Runner) completeRun(id string, finished time.Time, outcome Outcome, jobErr error) {
	if r.runs == nil || id == "" {
		return
	}
	var msg *string
	if jobErr != nil {
		m := jobErr.Error()
		msg = &m
	}
	// The job context may already be canceled at shutdown; history is still written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.runs.CompleteRun(ctx, id, finished, outcome.Status, msg, outcome.Detail); err != nil {
		r.logger.Warn("failed to record job completion", zap.String("run_id", id), zap.Error(err))
	}
}
