// Package server builds the application's dependencies and runs the HTTP
// server alongside the batch scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/api"
	"github.com/JakeFAU/patrol-reporter/internal/archive"
	driveuploader "github.com/JakeFAU/patrol-reporter/internal/archive/drive"
	gcsuploader "github.com/JakeFAU/patrol-reporter/internal/archive/gcs"
	memoryuploader "github.com/JakeFAU/patrol-reporter/internal/archive/memory"
	"github.com/JakeFAU/patrol-reporter/internal/batch"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/clock/system"
	"github.com/JakeFAU/patrol-reporter/internal/config"
	"github.com/JakeFAU/patrol-reporter/internal/geofence"
	"github.com/JakeFAU/patrol-reporter/internal/hash/sha256"
	"github.com/JakeFAU/patrol-reporter/internal/id/uuid"
	"github.com/JakeFAU/patrol-reporter/internal/ingest"
	"github.com/JakeFAU/patrol-reporter/internal/logging"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/publisher"
	memorypublisher "github.com/JakeFAU/patrol-reporter/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/patrol-reporter/internal/publisher/pubsub"
	"github.com/JakeFAU/patrol-reporter/internal/ratelimit"
	"github.com/JakeFAU/patrol-reporter/internal/render/pdf"
	"github.com/JakeFAU/patrol-reporter/internal/scheduler"
	"github.com/JakeFAU/patrol-reporter/internal/storage/local"
	memorystore "github.com/JakeFAU/patrol-reporter/internal/storage/memory"
	pgstore "github.com/JakeFAU/patrol-reporter/internal/storage/postgres"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	loc             *time.Location
	apiServer       *api.Server
	scheduler       *scheduler.Scheduler
	runner          *batch.Runner
	exporter        *batch.Exporter
	cleaner         *batch.Cleaner
	pg              *pgstore.Store
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// stores groups the persistence ports behind either backend.
type stores struct {
	patrol patrol.Store
	runs   store.JobRunRepository
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	loc, err := calendar.LoadZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, loc: loc}
	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("timezone", loc.String()),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("postgres", cfg.UsePostgres()),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	st, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}
	files, err := local.New(local.Config{
		BaseDir:       cfg.Storage.BaseDir,
		ImagesDir:     cfg.Storage.ImagesDir,
		PDFDir:        cfg.Storage.PDFDir,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
		Location:      loc,
	})
	if err != nil {
		return nil, fmt.Errorf("file store init failed: %w", err)
	}
	uploader, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	events, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	agg, err := aggregate.New(st.patrol, st.patrol, st.patrol)
	if err != nil {
		return nil, err
	}
	renderer := pdf.New(files, pdf.Options{Location: loc, Logger: logger})

	ing, err := ingest.New(ingest.Dependencies{
		Users:       st.patrol,
		Checkpoints: st.patrol,
		Reports:     st.patrol,
		Files:       files,
		Policy: geofence.Policy{
			BaseRadius:     cfg.Geofence.BaseRadiusM,
			AccuracyFactor: cfg.Geofence.AccuracyFactor,
			MaxRadius:      cfg.Geofence.MaxRadiusM,
		},
		Clock:  clock,
		IDs:    ids,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest init failed: %w", err)
	}

	app.exporter, err = batch.NewExporter(batch.ExportDeps{
		Reports:   agg,
		Archiver:  st.patrol,
		Renderer:  renderer,
		PDFs:      files,
		Hasher:    sha256.New(),
		Uploader:  uploader,
		Publisher: events,
		Clock:     clock,
		Logger:    logger,
	}, batch.ExportConfig{
		Location:      loc,
		RenderTimeout: cfg.Jobs.RenderTimeout,
		UploadTimeout: cfg.Jobs.UploadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("exporter init failed: %w", err)
	}
	app.cleaner, err = batch.NewCleaner(batch.CleanupDeps{
		Reports: agg,
		Files:   files,
		PDFs:    files,
		Rows:    st.patrol,
		Clock:   clock,
		Logger:  logger,
	}, batch.CleanupConfig{Location: loc, PurgeRecords: cfg.Cleanup.PurgeAttachmentRecords})
	if err != nil {
		return nil, fmt.Errorf("cleaner init failed: %w", err)
	}
	app.runner = batch.NewRunner(batch.NewRegistry(), st.runs, clock, ids, logger)

	if cfg.Scheduler.Enabled {
		if err := setupScheduler(app); err != nil {
			return nil, err
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
		logger.Info("submission rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	var ready func(context.Context) error
	if app.pg != nil {
		ready = app.pg.Ping
	}

	app.apiServer = api.NewServer(api.Dependencies{
		Submitter:   ing,
		Reports:     agg,
		ReportStore: st.patrol,
		Checkpoints: st.patrol,
		Files:       files,
		Renderer:    renderer,
		Runs:        st.runs,
		IDs:         ids,
		Clock:       clock,
		Limiter:     limiter,
		Ready:       ready,
		Logger:      logger,
	}, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		Location:       loc,
		MaxUploadBytes: cfg.Storage.MaxImageBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	built = true
	return app, nil
}

func setupStores(ctx context.Context, app *App) (stores, error) {
	if !app.cfg.UsePostgres() {
		app.logger.Warn("No DSN specified for database, using in-memory store")
		mem := memorystore.New()
		for _, u := range app.cfg.SeedUsers {
			mem.AddUser(patrol.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName})
		}
		return stores{patrol: mem, runs: mem}, nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pg = pg
	if app.cfg.DB.AutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			return stores{}, fmt.Errorf("schema migration failed: %w", err)
		}
		app.logger.Info("database schema ensured")
	}
	if len(app.cfg.SeedUsers) > 0 {
		app.logger.Warn("seed_users ignored with postgres", zap.Int("users", len(app.cfg.SeedUsers)))
	}
	return stores{patrol: pg, runs: pg}, nil
}

func setupArchive(ctx context.Context, app *App) (archive.Uploader, error) {
	switch app.cfg.Archive.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS archive backend", zap.String("bucket", app.cfg.Archive.GCS.Bucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		up, err := gcsuploader.New(app.storage, gcsuploader.Config{
			Bucket: app.cfg.Archive.GCS.Bucket,
			Prefix: app.cfg.Archive.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs uploader init failed: %w", err)
		}
		return up, nil
	case config.BackendDrive:
		app.logger.Info("using Google Drive archive backend", zap.String("folder_id", app.cfg.Archive.Drive.FolderID))
		svc, err := driveuploader.NewService(ctx, app.cfg.Archive.Drive.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("drive client init failed: %w", err)
		}
		up, err := driveuploader.New(svc, driveuploader.Config{
			FolderID:      app.cfg.Archive.Drive.FolderID,
			ShareWithLink: app.cfg.Archive.Drive.ShareWithLink,
		})
		if err != nil {
			return nil, fmt.Errorf("drive uploader init failed: %w", err)
		}
		return up, nil
	default:
		app.logger.Warn("using in-memory archive backend; exports are lost on restart")
		return memoryuploader.New(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupScheduler(app *App) error {
	sc := app.cfg.Scheduler
	weekday, err := scheduler.ParseWeekday(sc.WeeklyCleanup.Weekday)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	app.scheduler = scheduler.New(app.loc, app.logger)
	if err := app.scheduler.Daily(batch.DailyExportJob, sc.DailyExport.At, func(ctx context.Context, at time.Time) {
		app.runner.Trigger(ctx, app.exporter, scheduler.LookbackRef(at, sc.DailyExport.LookbackDays))
	}); err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	if err := app.scheduler.Weekly(batch.WeeklyCleanupJob, weekday, sc.WeeklyCleanup.At, func(ctx context.Context, at time.Time) {
		app.runner.Trigger(ctx, app.cleaner, scheduler.LookbackRef(at, sc.WeeklyCleanup.LookbackDays))
	}); err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Location returns the service timezone.
func (a *App) Location() *time.Location {
	return a.loc
}

// Job resolves a batch job by name.
func (a *App) Job(name string) (batch.Job, error) {
	switch name {
	case batch.DailyExportJob:
		return a.exporter, nil
	case batch.WeeklyCleanupJob:
		return a.cleaner, nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

// RunJob executes a job once for ref outside the scheduler. It shares the
// per-job guard and run history with scheduled runs.
func (a *App) RunJob(ctx context.Context, name string, ref time.Time) (batch.Outcome, error) {
	job, err := a.Job(name)
	if err != nil {
		return batch.Outcome{}, err
	}
	return a.runner.Run(ctx, job, ref)
}

// Run starts the scheduler and HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close stops the scheduler, waiting for running jobs, then releases clients.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.scheduler != nil {
		if stopErr := a.scheduler.Stop(ctx); stopErr != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(stopErr))
			err = stopErr
		}
	}
	a.closeInfrastructure()
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
