package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/geofence"
	"github.com/JakeFAU/patrol-reporter/internal/ingest"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

func TestIngestExportCleanupPipeline(t *testing.T) {
	t.Parallel()

	f := newExportFixture(t)
	ctx := context.Background()
	// Friday 2026-10-16 09:00 in Jakarta.
	now := time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)

	ing, err := ingest.New(ingest.Dependencies{
		Users:       f.store,
		Checkpoints: f.store,
		Reports:     f.store,
		Files:       f.files,
		Policy:      geofence.DefaultPolicy(),
		Clock:       fakeClock{now: now},
		IDs:         &fakeIDs{},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	lat, lon, acc := 0.0, 0.0, 5.0
	var reportIDs []string
	for _, body := range []string{"north fence clear", "gate locked"} {
		r, err := ing.Create(ctx, ingest.Submission{
			UserID:       "u1",
			CheckpointID: "c1",
			Body:         body,
			Latitude:     &lat,
			Longitude:    &lon,
			Accuracy:     &acc,
			Uploads: []patrol.Upload{{
				FileName:    "photo.png",
				ContentType: "image/png",
				Body:        bytes.NewReader(pngImage(t)),
			}},
		})
		require.NoError(t, err)
		reportIDs = append(reportIDs, r.ID)
	}
	images, err := os.ReadDir(filepath.Join(f.dir, "report-images"))
	require.NoError(t, err)
	require.Len(t, images, 2)

	runner := NewRunner(NewRegistry(), f.store, fakeClock{now: now}, &fakeIDs{}, zap.NewNop())
	exporter := f.exporter(t)
	require.True(t, runner.Trigger(ctx, exporter, now))

	pdfPath, err := f.files.PDFPath("16-10-2026-report.pdf")
	require.NoError(t, err)
	require.FileExists(t, pdfPath)
	for _, id := range reportIDs {
		require.True(t, f.report(t, id).Archived())
	}

	cleaner, err := NewCleaner(CleanupDeps{
		Reports: exporter.deps.Reports,
		Files:   f.files,
		PDFs:    f.files,
		Rows:    f.store,
		Clock:   fakeClock{now: now},
		Logger:  zap.NewNop(),
	}, CleanupConfig{Location: f.loc, PurgeRecords: false})
	require.NoError(t, err)
	// Monday 00:30 run with one day of lookback lands on Sunday.
	monday := time.Date(2026, 10, 19, 0, 30, 0, 0, f.loc)
	require.True(t, runner.Trigger(ctx, cleaner, monday.AddDate(0, 0, -1)))

	images, err = os.ReadDir(filepath.Join(f.dir, "report-images"))
	require.NoError(t, err)
	require.Empty(t, images)
	require.NoFileExists(t, pdfPath)

	for _, id := range reportIDs {
		rows := f.attachments(t, id)
		require.Len(t, rows, 1, "rows persist when purge is disabled")
		require.NotNil(t, rows[0].PurgedAt)
	}

	runs, err := f.store.ListRuns(ctx, store.RunFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		require.Equal(t, store.RunSuccess, run.Status, run.Job)
	}
}
