package patrol

import (
	"context"
	"io"
	"time"
)

// UserStore resolves officers by ID.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	// GetUsers returns the users found for ids, keyed by ID. Missing IDs are absent.
	GetUsers(ctx context.Context, ids []string) (map[string]User, error)
}

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	CreateCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (Checkpoint, error)
	GetCheckpoints(ctx context.Context, ids []string) (map[string]Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
	// DeleteCheckpoint refuses with a ConflictError while reports reference it.
	DeleteCheckpoint(ctx context.Context, id string) error
}

// ReportStore persists reports and their attachments.
type ReportStore interface {
	// CreateReport inserts the report and all attachments atomically.
	CreateReport(ctx context.Context, report Report, attachments []Attachment) error
	GetReport(ctx context.Context, id string) (Report, error)
	// ListReports returns reports created in [start, end], ascending by creation time.
	ListReports(ctx context.Context, start, end time.Time, filter ReportFilter) ([]Report, error)
	// ListAttachments fetches the attachments of all given reports in one round trip.
	ListAttachments(ctx context.Context, reportIDs []string) ([]Attachment, error)
	// SetArchive stamps ref on every listed report in one statement.
	SetArchive(ctx context.Context, reportIDs []string, ref ArchiveRef, at time.Time) (int64, error)
	DeleteAttachments(ctx context.Context, attachmentIDs []string) (int64, error)
	MarkAttachmentsPurged(ctx context.Context, attachmentIDs []string, at time.Time) (int64, error)
	// DeleteReport removes the report and its attachment rows, returning the removed attachments.
	DeleteReport(ctx context.Context, id string) ([]Attachment, error)
}

// Store bundles every persistence port.
type Store interface {
	UserStore
	CheckpointStore
	ReportStore
}

// Upload is one uploaded attachment awaiting storage.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// SaveRequest carries what the attachment store needs to name a file.
type SaveRequest struct {
	UserID       string
	CheckpointID string
	At           time.Time
	Upload       Upload
}

// AttachmentStore saves uploaded bytes and owns the file naming policy.
type AttachmentStore interface {
	// SaveAttachment stores the upload and returns its path relative to the storage root.
	SaveAttachment(ctx context.Context, req SaveRequest) (string, error)
	// Remove deletes a stored file. It returns an error wrapping fs.ErrNotExist if absent.
	Remove(ctx context.Context, relPath string) error
	Open(relPath string) (io.ReadCloser, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
