// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /v1/reports for multipart patrol submissions gated by the geofence.
//   - GET /v1/reports/date/{date} for a day's reports joined with names.
//   - POST /v1/reports/export/pdf for an on-demand PDF of one day.
//   - /v1/checkpoints for the minimal checkpoint admin surface.
//   - GET /v1/jobs/runs for batch job history.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
