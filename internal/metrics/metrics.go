// Package metrics exposes Prometheus collectors for the patrol reporting service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reportSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_report_submissions_total",
			Help: "Report submissions, labeled by outcome.",
		},
		[]string{"result"},
	)

	geofenceDistanceMeters = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patrol_geofence_distance_meters",
			Help:    "Distance between the submitted position and the checkpoint.",
			Buckets: []float64{5, 10, 15, 25, 50, 100, 250, 1000},
		},
		[]string{"result"},
	)

	attachmentsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patrol_attachments_saved_total",
			Help: "Report images written to local storage.",
		},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_job_runs_total",
			Help: "Batch job runs, labeled by job and final status.",
		},
		[]string{"job", "status"},
	)

	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patrol_job_duration_seconds",
			Help:    "Batch job wall time.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	jobRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "patrol_job_running",
			Help: "1 while the named batch job is executing.",
		},
		[]string{"job"},
	)

	archiveUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_archive_uploads_total",
			Help: "PDF archive uploads, labeled by backend and status.",
		},
		[]string{"backend", "status"},
	)

	cleanupFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patrol_cleanup_files_total",
			Help: "Files handled by the weekly cleanup, labeled by kind and result.",
		},
		[]string{"kind", "result"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "patrol_rate_limited_total",
			Help: "Submissions rejected by the rate limiter.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one submission outcome.
func ObserveSubmission(result string) {
	reportSubmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveGeofence records the measured distance of a geofence check.
func ObserveGeofence(distanceMeters float64, pass bool) {
	result := "fail"
	if pass {
		result = "pass"
	}
	geofenceDistanceMeters.WithLabelValues(result).Observe(distanceMeters)
}

// ObserveAttachments adds n saved attachments.
func ObserveAttachments(n int) {
	if n > 0 {
		attachmentsSavedTotal.Add(float64(n))
	}
}

// ObserveJobRun records a finished job run.
func ObserveJobRun(job, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// SetJobRunning flips the running gauge for a job.
func SetJobRunning(job string, running bool) {
	if running {
		jobRunning.WithLabelValues(job).Set(1)
		return
	}
	jobRunning.WithLabelValues(job).Set(0)
}

// ObserveArchiveUpload counts an upload attempt.
func ObserveArchiveUpload(backend, status string) {
	archiveUploadsTotal.WithLabelValues(backend, status).Inc()
}

// ObserveCleanupFile counts one file handled by cleanup.
func ObserveCleanupFile(kind, result string) {
	cleanupFilesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveRateLimited counts a throttled submission.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request counts and latencies labeled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
