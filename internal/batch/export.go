package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/archive"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/metrics"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/publisher"
	"github.com/JakeFAU/patrol-reporter/internal/render/pdf"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// DefaultStepTimeout bounds render and upload when no timeout is configured.
const DefaultStepTimeout = 2 * time.Minute

// ReportSource loads a window of joined reports.
type ReportSource interface {
	ReportsInRange(ctx context.Context, w calendar.Window, f aggregate.Filter) (aggregate.ReportSet, error)
}

// Renderer writes a report set as a PDF.
type Renderer interface {
	Render(ctx context.Context, set aggregate.ReportSet, w io.Writer) (pdf.Summary, error)
}

// PDFStore owns the local export directory.
type PDFStore interface {
	CreatePDF(fileName string) (*os.File, error)
	RemovePDF(fileName string) error
}

// Hasher digests a file.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Archiver stamps archive references.
type Archiver interface {
	SetArchive(ctx context.Context, reportIDs []string, ref patrol.ArchiveRef, at time.Time) (int64, error)
}

// ExportConfig tunes the daily export.
type ExportConfig struct {
	Location      *time.Location
	RenderTimeout time.Duration
	UploadTimeout time.Duration
}

// ExportDeps bundles the exporter's collaborators.
type ExportDeps struct {
	Reports   ReportSource
	Archiver  Archiver
	Renderer  Renderer
	PDFs      PDFStore
	Hasher    Hasher
	Uploader  archive.Uploader
	Publisher publisher.Publisher
	Clock     patrol.Clock
	Logger    *zap.Logger
}

// ExportResult describes one daily export.
type ExportResult struct {
	Day      calendar.Window
	FileName string
	Reports  int
	Pages    int
	SHA256   string
	Size     int64
	Ref      patrol.ArchiveRef
	Stamped  int64
	// Skipped is set when nothing was rendered.
	Skipped string
}

// Exporter is the daily export job.
type Exporter struct {
	deps ExportDeps
	cfg  ExportConfig
	log  *zap.Logger
}

// NewExporter validates dependencies and applies defaults.
func NewExporter(deps ExportDeps, cfg ExportConfig) (*Exporter, error) {
	switch {
	case deps.Reports == nil:
		return nil, errors.New("report source is required")
	case deps.Archiver == nil:
		return nil, errors.New("archiver is required")
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.PDFs == nil:
		return nil, errors.New("pdf store is required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	case deps.Uploader == nil:
		return nil, errors.New("uploader is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultStepTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultStepTimeout
	}
	return &Exporter{deps: deps, cfg: cfg, log: deps.Logger.Named("export")}, nil
}

// Name implements Job.
func (e *Exporter) Name() string { return DailyExportJob }

// Execute implements Job.
func (e *Exporter) Execute(ctx context.Context, ref time.Time) (Outcome, error) {
	res, err := e.Run(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}
	if res.Skipped != "" {
		return Outcome{Status: store.RunSkipped, Detail: res.Skipped}, nil
	}
	return Outcome{
		Status: store.RunSuccess,
		Detail: fmt.Sprintf("%d reports archived to %s", res.Stamped, res.Ref.URL),
	}, nil
}

// Run exports the local day containing ref.
func (e *Exporter) Run(ctx context.Context, ref time.Time) (ExportResult, error) {
	day := calendar.DayWindow(ref, e.cfg.Location)
	res := ExportResult{Day: day, FileName: calendar.PDFFileName(day.Start, e.cfg.Location)}

	set, err := e.deps.Reports.ReportsInRange(ctx, day, aggregate.Filter{})
	if err != nil {
		return res, stepErr("aggregate", err)
	}
	res.Reports = len(set.Entries)
	if set.Empty() {
		res.Skipped = "no reports"
		return res, nil
	}
	if set.AllArchived() {
		res.Skipped = "already archived"
		return res, nil
	}

	path, summary, err := e.render(ctx, set, res.FileName)
	if err != nil {
		return res, stepErr("render", err)
	}
	res.Pages = summary.Pages

	if res.SHA256, err = e.deps.Hasher.HashFile(path); err != nil {
		return res, stepErr("hash", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return res, stepErr("hash", err)
	}
	res.Size = info.Size()

	uploadCtx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	archiveRef, err := e.deps.Uploader.Upload(uploadCtx, archive.Artifact{
		Path:        path,
		FileName:    res.FileName,
		ContentType: archive.PDFContentType,
		SHA256:      res.SHA256,
		Size:        res.Size,
		Day:         day.Start,
	})
	cancel()
	if err != nil {
		metrics.ObserveArchiveUpload(e.deps.Uploader.Backend(), "error")
		return res, stepErr("upload", err)
	}
	if !archiveRef.Valid() {
		metrics.ObserveArchiveUpload(e.deps.Uploader.Backend(), "error")
		return res, stepErr("upload", fmt.Errorf("uploader returned incomplete reference %+v", archiveRef))
	}
	metrics.ObserveArchiveUpload(e.deps.Uploader.Backend(), "success")
	res.Ref = archiveRef

	ids := set.ReportIDs()
	if res.Stamped, err = e.deps.Archiver.SetArchive(ctx, ids, archiveRef, e.deps.Clock.Now()); err != nil {
		return res, stepErr("stamp", err)
	}
	e.log.Info("daily export archived",
		zap.String("day", day.Start.Format(calendar.DateLayout)),
		zap.String("file", res.FileName),
		zap.Int("reports", res.Reports),
		zap.Int64("stamped", res.Stamped),
		zap.String("url", archiveRef.URL),
		zap.String("sha256", res.SHA256),
	)

	if _, err := e.deps.Publisher.Publish(ctx, publisher.ArchiveCreated{
		Event:       publisher.EventArchiveCreated,
		Day:         day.Start.Format(calendar.DateLayout),
		FileName:    res.FileName,
		Backend:     e.deps.Uploader.Backend(),
		URL:         archiveRef.URL,
		ObjectID:    archiveRef.ObjectID,
		SHA256:      res.SHA256,
		SizeBytes:   res.Size,
		ReportCount: len(ids),
		ReportIDs:   ids,
		CreatedAt:   e.deps.Clock.Now(),
	}); err != nil {
		e.log.Warn("failed to publish archive event", zap.String("file", res.FileName), zap.Error(err))
	}
	return res, nil
}

func (e *Exporter) render(ctx context.Context, set aggregate.ReportSet, fileName string) (string, pdf.Summary, error) {
	renderCtx, cancel := context.WithTimeout(ctx, e.cfg.RenderTimeout)
	defer cancel()

	f, err := e.deps.PDFs.CreatePDF(fileName)
	if err != nil {
		return "", pdf.Summary{}, err
	}
	path := f.Name()
	summary, err := e.deps.Renderer.Render(renderCtx, set, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := e.deps.PDFs.RemovePDF(fileName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.log.Warn("failed to remove partial pdf", zap.String("file", fileName), zap.Error(rmErr))
		}
		return "", pdf.Summary{}, err
	}
	return path, summary, nil
}
