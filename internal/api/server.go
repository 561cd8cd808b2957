package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/ingest"
	"github.com/JakeFAU/patrol-reporter/internal/logging"
	"github.com/JakeFAU/patrol-reporter/internal/metrics"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/ratelimit"
	"github.com/JakeFAU/patrol-reporter/internal/render/pdf"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// Submitter accepts report submissions.
type Submitter interface {
	Create(ctx context.Context, sub ingest.Submission) (patrol.Report, error)
}

// ReportSource loads joined reports for a window.
type ReportSource interface {
	ReportsInRange(ctx context.Context, w calendar.Window, f aggregate.Filter) (aggregate.ReportSet, error)
}

// Renderer writes a report set as a PDF.
type Renderer interface {
	Render(ctx context.Context, set aggregate.ReportSet, w io.Writer) (pdf.Summary, error)
}

// FileRemover deletes stored attachment files.
type FileRemover interface {
	Remove(ctx context.Context, relPath string) error
}

// Dependencies wires handlers to the domain.
type Dependencies struct {
	Submitter   Submitter
	Reports     ReportSource
	ReportStore patrol.ReportStore
	Checkpoints patrol.CheckpointStore
	Files       FileRemover
	Renderer    Renderer
	Runs        store.JobRunRepository
	IDs         patrol.IDGenerator
	Clock       patrol.Clock
	Limiter     *ratelimit.Limiter
	// Ready reports downstream health for /readyz; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Options carries HTTP-level settings.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	Location       *time.Location
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the ingest, aggregate and render pipeline.
type Server struct {
	router chi.Router
	deps   Dependencies
	opts   Options
	runs   *RunHandler
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		runs:   NewRunHandler(deps.Runs, deps.Logger),
		logger: deps.Logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(deps.Logger))
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.Limiter != nil {
					r.Use(deps.Limiter.Middleware(ratelimit.ClientIP))
				}
				r.Post("/", s.createReport)
			})
			r.Get("/date/{date}", s.reportsByDate)
			r.Post("/export/pdf", s.exportPDF)
			r.Get("/{report_id}", s.getReport)
			r.With(s.admin).Delete("/{report_id}", s.deleteReport)
		})
		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", s.listCheckpoints)
			r.Get("/{checkpoint_id}", s.getCheckpoint)
			r.With(s.admin).Post("/", s.createCheckpoint)
			r.With(s.admin).Delete("/{checkpoint_id}", s.deleteCheckpoint)
		})
		r.Route("/jobs/runs", func(r chi.Router) {
			r.Use(s.admin)
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// admin guards routes behind the API key when auth is enabled.
func (s *Server) admin(next http.Handler) http.Handler {
	if !s.opts.AuthEnabled {
		return next
	}
	expected := []byte(s.opts.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the patrol error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var tooFar *patrol.TooFarError
	switch {
	case errors.As(err, &tooFar):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":            tooFar.Error(),
			"distance_m":       round1(tooFar.DistanceMeters),
			"accuracy_m":       round1(tooFar.AccuracyMeters),
			"allowed_radius_m": round1(tooFar.AllowedRadius),
		})
	case errors.Is(err, patrol.ErrMissingField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, patrol.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, patrol.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, patrol.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
