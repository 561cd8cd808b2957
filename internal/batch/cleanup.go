package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/metrics"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// FileRemover deletes stored attachment files by relative path.
type FileRemover interface {
	Remove(ctx context.Context, relPath string) error
}

// PDFRemover deletes local daily exports by file name.
type PDFRemover interface {
	RemovePDF(fileName string) error
}

// AttachmentPurger drops or marks attachment rows after their files are gone.
type AttachmentPurger interface {
	DeleteAttachments(ctx context.Context, attachmentIDs []string) (int64, error)
	MarkAttachmentsPurged(ctx context.Context, attachmentIDs []string, at time.Time) (int64, error)
}

// CleanupConfig tunes the weekly cleanup.
type CleanupConfig struct {
	Location *time.Location
	// PurgeRecords deletes attachment rows; otherwise rows are kept and stamped purged_at.
	PurgeRecords bool
}

// CleanupDeps bundles the cleaner's collaborators.
type CleanupDeps struct {
	Reports ReportSource
	Files   FileRemover
	PDFs    PDFRemover
	Rows    AttachmentPurger
	Clock   patrol.Clock
	Logger  *zap.Logger
}

// CleanupResult counts what one cleanup touched.
type CleanupResult struct {
	Week         calendar.Window
	Reports      int
	FilesRemoved int
	FilesMissing int
	FilesFailed  int
	RowsDeleted  int64
	RowsMarked   int64
	PDFsRemoved  int
	PDFsMissing  int
	PDFsFailed   int
}

func (r CleanupResult) String() string {
	return fmt.Sprintf(
		"%d reports: files removed=%d missing=%d failed=%d, rows deleted=%d marked=%d, pdfs removed=%d missing=%d failed=%d",
		r.Reports, r.FilesRemoved, r.FilesMissing, r.FilesFailed,
		r.RowsDeleted, r.RowsMarked, r.PDFsRemoved, r.PDFsMissing, r.PDFsFailed,
	)
}

// Cleaner is the weekly cleanup job.
type Cleaner struct {
	deps CleanupDeps
	cfg  CleanupConfig
	log  *zap.Logger
}

// NewCleaner validates dependencies and applies defaults.
func NewCleaner(deps CleanupDeps, cfg CleanupConfig) (*Cleaner, error) {
	switch {
	case deps.Reports == nil:
		return nil, errors.New("report source is required")
	case deps.Files == nil:
		return nil, errors.New("file remover is required")
	case deps.PDFs == nil:
		return nil, errors.New("pdf remover is required")
	case deps.Rows == nil:
		return nil, errors.New("attachment purger is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Cleaner{deps: deps, cfg: cfg, log: deps.Logger.Named("cleanup")}, nil
}

// Name implements Job.
func (c *Cleaner) Name() string { return WeeklyCleanupJob }

// Execute implements Job.
func (c *Cleaner) Execute(ctx context.Context, ref time.Time) (Outcome, error) {
	res, err := c.Run(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}
	if res.Reports == 0 {
		return Outcome{Status: store.RunSkipped, Detail: "no archived reports"}, nil
	}
	return Outcome{Status: store.RunSuccess, Detail: res.String()}, nil
}

// Run cleans the archived reports of the local week containing ref. Only
// loading the week can fail; per-item failures are logged and counted.
func (c *Cleaner) Run(ctx context.Context, ref time.Time) (CleanupResult, error) {
	week := calendar.WeekWindow(ref, c.cfg.Location)
	res := CleanupResult{Week: week}

	set, err := c.deps.Reports.ReportsInRange(ctx, week, aggregate.Filter{ArchivedOnly: true})
	if err != nil {
		return res, stepErr("aggregate", err)
	}
	res.Reports = len(set.Entries)
	if set.Empty() {
		c.log.Info("no archived reports to clean", zap.Stringer("week", week))
		return res, nil
	}

	gone := c.removeFiles(ctx, set, &res)
	c.purgeRows(ctx, gone, &res)
	c.removePDFs(set, &res)

	c.log.Info("weekly cleanup finished",
		zap.String("week_start", week.Start.Format(calendar.DateLayout)),
		zap.Int("reports", res.Reports),
		zap.Int("files_removed", res.FilesRemoved),
		zap.Int("files_missing", res.FilesMissing),
		zap.Int("files_failed", res.FilesFailed),
		zap.Int64("rows_deleted", res.RowsDeleted),
		zap.Int64("rows_marked", res.RowsMarked),
		zap.Int("pdfs_removed", res.PDFsRemoved),
	)
	return res, nil
}

// removeFiles returns the IDs of attachments whose files no longer exist.
func (c *Cleaner) removeFiles(ctx context.Context, set aggregate.ReportSet, res *CleanupResult) []string {
	var gone []string
	for _, e := range set.Entries {
		for _, att := range e.Attachments {
			if att.PurgedAt != nil {
				if c.cfg.PurgeRecords {
					gone = append(gone, att.ID)
				}
				continue
			}
			if att.FilePath == "" {
				gone = append(gone, att.ID)
				continue
			}
			err := c.deps.Files.Remove(ctx, att.FilePath)
			switch {
			case err == nil:
				res.FilesRemoved++
				metrics.ObserveCleanupFile("attachment", "removed")
				gone = append(gone, att.ID)
			case errors.Is(err, os.ErrNotExist):
				res.FilesMissing++
				metrics.ObserveCleanupFile("attachment", "missing")
				c.log.Warn("attachment file already missing",
					zap.String("report_id", e.Report.ID), zap.String("path", att.FilePath))
				gone = append(gone, att.ID)
			default:
				res.FilesFailed++
				metrics.ObserveCleanupFile("attachment", "failed")
				c.log.Error("failed to remove attachment file",
					zap.String("report_id", e.Report.ID), zap.String("path", att.FilePath), zap.Error(err))
			}
		}
	}
	return gone
}

func (c *Cleaner) purgeRows(ctx context.Context, ids []string, res *CleanupResult) {
	if len(ids) == 0 {
		return
	}
	var err error
	if c.cfg.PurgeRecords {
		res.RowsDeleted, err = c.deps.Rows.DeleteAttachments(ctx, ids)
	} else {
		res.RowsMarked, err = c.deps.Rows.MarkAttachmentsPurged(ctx, ids, c.deps.Clock.Now())
	}
	if err != nil {
		c.log.Error("failed to update attachment rows",
			zap.Int("attachments", len(ids)), zap.Bool("purge", c.cfg.PurgeRecords), zap.Error(err))
	}
}

func (c *Cleaner) removePDFs(set aggregate.ReportSet, res *CleanupResult) {
	names := make(map[string]struct{})
	for _, e := range set.Entries {
		names[calendar.PDFFileName(e.Report.CreatedAt, c.cfg.Location)] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		err := c.deps.PDFs.RemovePDF(name)
		switch {
		case err == nil:
			res.PDFsRemoved++
			metrics.ObserveCleanupFile("pdf", "removed")
		case errors.Is(err, os.ErrNotExist):
			res.PDFsMissing++
			metrics.ObserveCleanupFile("pdf", "missing")
			c.log.Warn("daily pdf already missing", zap.String("file", name))
		default:
			res.PDFsFailed++
			metrics.ObserveCleanupFile("pdf", "failed")
			c.log.Error("failed to remove daily pdf", zap.String("file", name), zap.Error(err))
		}
	}
}
