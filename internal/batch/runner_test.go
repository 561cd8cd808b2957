package batch

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/render/pdf"
	"github.com/JakeFAU/patrol-reporter/internal/store"
	memstore "github.com/JakeFAU/patrol-reporter/internal/storage/memory"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context, ref time.Time) (Outcome, error)
}

func (j funcJob) Name() string { return j.name }

func (j funcJob) Execute(ctx context.Context, ref time.Time) (Outcome, error) {
	return j.fn(ctx, ref)
}

func newTestRunner(st *memstore.Store) *Runner {
	clock := fakeClock{now: time.Date(2026, 10, 16, 16, 55, 0, 0, time.UTC)}
	return NewRunner(NewRegistry(), st, clock, &fakeIDs{}, zap.NewNop())
}

// blockingRenderer holds the first render until release is closed.
type blockingRenderer struct {
	inner   Renderer
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingRenderer) Render(ctx context.Context, set aggregate.ReportSet, w io.Writer) (pdf.Summary, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
	}
	<-r.release
	return r.inner.Render(ctx, set, w)
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	t.Parallel()

	f := newExportFixture(t)
	r := f.addReport(t, time.Date(2026, 10, 16, 8, 15, 0, 0, f.loc), pngImage(t))
	slow := &blockingRenderer{inner: f.deps.Renderer, started: make(chan struct{}), release: make(chan struct{})}
	f.deps.Renderer = slow
	exporter := f.exporter(t)
	runner := newTestRunner(f.store)
	ref := time.Date(2026, 10, 16, 23, 55, 0, 0, f.loc)

	done := make(chan bool)
	go func() { done <- runner.Trigger(context.Background(), exporter, ref) }()
	<-slow.started

	require.True(t, runner.Registry().Running(DailyExportJob))
	require.False(t, runner.Trigger(context.Background(), exporter, ref))

	close(slow.release)
	require.True(t, <-done)
	require.False(t, runner.Registry().Running(DailyExportJob))

	require.Equal(t, int32(1), slow.calls.Load())
	require.Equal(t, 1, f.uploads.Uploads())
	require.Equal(t, 1, f.store.Calls("SetArchive"))
	require.NotNil(t, f.report(t, r.ID).Archive)

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Equal(t, "1 reports archived to memory://16-10-2026-report.pdf", runs[0].Detail)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestTriggerRecordsStepFailure(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	runner := newTestRunner(st)
	job := funcJob{name: WeeklyCleanupJob, fn: func(context.Context, time.Time) (Outcome, error) {
		return Outcome{}, stepErr("aggregate", errors.New("db down"))
	}}

	require.True(t, runner.Trigger(context.Background(), job, time.Now()))
	require.False(t, runner.Registry().Running(WeeklyCleanupJob), "guard released after failure")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunError, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
	require.Equal(t, "aggregate: db down", *runs[0].ErrorMessage)
}

func TestTriggerRecoversPanics(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	runner := newTestRunner(st)
	job := funcJob{name: DailyExportJob, fn: func(context.Context, time.Time) (Outcome, error) {
		panic("renderer exploded")
	}}

	require.NotPanics(t, func() {
		require.True(t, runner.Trigger(context.Background(), job, time.Now()))
	})
	require.False(t, runner.Registry().Running(DailyExportJob))

	runs, err := st.ListRuns(context.Background(), store.RunFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunError, runs[0].Status)
	require.Contains(t, *runs[0].ErrorMessage, "panic: renderer exploded")
}

func TestTriggerWithoutHistory(t *testing.T) {
	t.Parallel()

	runner := NewRunner(nil, nil, fakeClock{now: time.Now()}, nil, nil)
	ran := false
	job := funcJob{name: DailyExportJob, fn: func(context.Context, time.Time) (Outcome, error) {
		ran = true
		return Outcome{}, nil
	}}
	require.True(t, runner.Trigger(context.Background(), job, time.Now()))
	require.True(t, ran)
}

func TestStepErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("quota exceeded")
	err := stepErr("upload", cause)
	require.ErrorIs(t, err, cause)

	var se *StepError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "upload", se.Step)
	require.NoError(t, stepErr("upload", nil))
}

func TestRunReturnsOutcomeAndGuardError(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	runner := newTestRunner(st)
	job := funcJob{name: WeeklyCleanupJob, fn: func(context.Context, time.Time) (Outcome, error) {
		return Outcome{Status: store.RunSkipped, Detail: "no archived reports"}, nil
	}}

	outcome, err := runner.Run(context.Background(), job, time.Now())
	require.NoError(t, err)
	require.Equal(t, store.RunSkipped, outcome.Status)

	require.True(t, runner.Registry().TryAcquire(WeeklyCleanupJob))
	_, err = runner.Run(context.Background(), job, time.Now())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	runner.Registry().Release(WeeklyCleanupJob)

	name := WeeklyCleanupJob
	runs, err := st.ListRuns(context.Background(), store.RunFilter{Job: &name}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1, "a guarded attempt records no history")
}
