// Package patrol holds the domain model shared by the patrol reporting service:
// checkpoints, reports, attachments, archive references, the persistence ports the
// ingestion and batch pipelines depend on, and the typed error taxonomy the HTTP
// layer maps to status codes.
//
// Lifecycle overview:
//   - A Report is created together with its Attachments after the submitter passes
//     the geofence check (see internal/ingest).
//   - The daily export stamps an ArchiveRef on every report it rendered into the
//     day's PDF (see internal/batch).
//   - The weekly cleanup removes local attachment files for archived reports only.
package patrol
