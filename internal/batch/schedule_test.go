package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/config"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/scheduler"
)

func TestDefaultDailyScheduleArchivesLateEveningReports(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	daily := cfg.Scheduler.DailyExport

	f := newExportFixture(t)
	sched := scheduler.New(f.loc, zap.NewNop())
	require.NoError(t, sched.Daily(DailyExportJob, daily.At, func(context.Context, time.Time) {}))

	reports := []patrol.Report{
		f.addReport(t, time.Date(2026, 10, 16, 10, 0, 0, 0, f.loc)),
		f.addReport(t, time.Date(2026, 10, 16, 23, 57, 0, 0, f.loc)),
		f.addReport(t, time.Date(2026, 10, 16, 23, 59, 59, 0, f.loc)),
		f.addReport(t, time.Date(2026, 10, 17, 0, 1, 0, 0, f.loc)),
	}

	ex := f.exporter(t)
	cursor := time.Date(2026, 10, 16, 9, 0, 0, 0, f.loc)
	var days []string
	for range 2 {
		fire, ok := sched.NextRun(DailyExportJob, cursor)
		require.True(t, ok)
		res, err := ex.Run(context.Background(), scheduler.LookbackRef(fire, daily.LookbackDays))
		require.NoError(t, err)
		days = append(days, res.FileName)
		cursor = fire
	}

	require.Equal(t, []string{"16-10-2026-report.pdf", "17-10-2026-report.pdf"}, days)
	for _, r := range reports {
		require.NotNil(t, f.report(t, r.ID).Archive, "report created %s not archived", r.CreatedAt)
	}
	require.Equal(t, 2, f.uploads.Uploads())
}
