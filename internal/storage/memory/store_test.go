package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

var base = time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddUser(patrol.User{ID: "u1", FirstName: "Budi", LastName: "Santoso"})
	require.NoError(t, s.CreateCheckpoint(context.Background(), patrol.Checkpoint{ID: "c1", Name: " Main Gate "}))
	return s
}

func TestCheckpointNamesAreUniqueCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	cp, err := s.GetCheckpoint(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "main gate", cp.Name)

	err = s.CreateCheckpoint(ctx, patrol.Checkpoint{ID: "c2", Name: "MAIN GATE"})
	require.ErrorIs(t, err, patrol.ErrConflict)

	_, err = s.GetCheckpoint(ctx, "missing")
	require.ErrorIs(t, err, patrol.ErrNotFound)
}

func TestDeleteCheckpointBlockedByReports(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.CreateReport(ctx, patrol.Report{ID: "r1", UserID: "u1", CheckpointID: "c1", CreatedAt: base}, nil))

	require.ErrorIs(t, s.DeleteCheckpoint(ctx, "c1"), patrol.ErrConflict)
	_, err := s.DeleteReport(ctx, "r1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteCheckpoint(ctx, "c1"))
	require.ErrorIs(t, s.DeleteCheckpoint(ctx, "c1"), patrol.ErrNotFound)
}

func TestReportLifecycle(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	attachments := []patrol.Attachment{
		{ID: "a1", FilePath: "report-images/a.webp", CreatedAt: base},
		{ID: "a2", LocalKey: "cache-2", CreatedAt: base},
	}
	require.NoError(t, s.CreateReport(ctx, patrol.Report{ID: "r1", UserID: "u1", CheckpointID: "c1", CreatedAt: base}, attachments))
	require.NoError(t, s.CreateReport(ctx, patrol.Report{ID: "r0", UserID: "u1", CheckpointID: "c1", CreatedAt: base.Add(-time.Hour)}, nil))
	require.ErrorIs(t, s.CreateReport(ctx, patrol.Report{ID: "r2", UserID: "ghost", CheckpointID: "c1"}, nil), patrol.ErrNotFound)

	got, err := s.GetReport(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 2)
	require.Equal(t, "r1", got.Attachments[0].ReportID)

	reports, err := s.ListReports(ctx, base.Add(-2*time.Hour), base, patrol.ReportFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"r0", "r1"}, []string{reports[0].ID, reports[1].ID})

	n, err := s.SetArchive(ctx, []string{"r1", "missing"}, patrol.ArchiveRef{URL: "https://x", ObjectID: "obj"}, base)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = s.SetArchive(ctx, []string{"r0"}, patrol.ArchiveRef{URL: "https://x"}, base)
	require.Error(t, err)

	archived, err := s.ListReports(ctx, base.Add(-2*time.Hour), base, patrol.ReportFilter{ArchivedOnly: true})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.True(t, archived[0].Archived())

	n, err = s.MarkAttachmentsPurged(ctx, []string{"a1"}, base)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = s.MarkAttachmentsPurged(ctx, []string{"a1"}, base)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.DeleteAttachments(ctx, []string{"a2"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	removed, err := s.DeleteReport(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.NotNil(t, removed[0].PurgedAt)
}

func TestJobRuns(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.StartRun(ctx, store.JobRun{ID: "1", Job: "daily-export", StartedAt: base}))
	require.NoError(t, s.StartRun(ctx, store.JobRun{ID: "2", Job: "weekly-cleanup", StartedAt: base.Add(time.Minute)}))
	require.Error(t, s.StartRun(ctx, store.JobRun{ID: "1"}))

	msg := "upload: boom"
	require.NoError(t, s.CompleteRun(ctx, "1", base.Add(time.Second), store.RunError, &msg, ""))
	require.ErrorIs(t, s.CompleteRun(ctx, "nope", base, store.RunSuccess, nil, ""), store.ErrNotFound)

	run, err := s.GetRun(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.FinishedAt)

	all, err := s.ListRuns(ctx, store.RunFilter{}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "2", all[0].ID)

	status := store.RunError
	failed, err := s.ListRuns(ctx, store.RunFilter{Status: &status}, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	job := "weekly-cleanup"
	weekly, err := s.ListRuns(ctx, store.RunFilter{Job: &job}, 10, 0)
	require.NoError(t, err)
	require.Len(t, weekly, 1)

	empty, err := s.ListRuns(ctx, store.RunFilter{}, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}
