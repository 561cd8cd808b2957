package patrol

import (
	"strings"
	"time"
)

// Checkpoint is a fixed physical location a patrol report must be submitted near.
type Checkpoint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Barcode   string    `json:"barcode"`
	CreatedAt time.Time `json:"created_at"`
}

// BarcodeValue returns the token encoded into the checkpoint QR code.
func (c Checkpoint) BarcodeValue() string {
	if c.Barcode == "" {
		return c.ID
	}
	return c.Barcode
}

// NormalizeCheckpointName lowercases and trims a checkpoint name for storage.
func NormalizeCheckpointName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User is the read model of a patrol officer. Users are managed elsewhere.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ArchiveRef identifies the uploaded PDF that contains a report.
type ArchiveRef struct {
	URL      string `json:"url"`
	ObjectID string `json:"object_id"`
}

// Valid reports whether both fields are set.
func (a ArchiveRef) Valid() bool {
	return a.URL != "" && a.ObjectID != ""
}

// Report is one patrol submission.
type Report struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	CheckpointID string       `json:"checkpoint_id"`
	Body         string       `json:"report"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Archive      *ArchiveRef  `json:"archive,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Archived reports whether the daily export already stamped this report.
func (r Report) Archived() bool {
	return r.Archive != nil && r.Archive.Valid()
}

// Attachment is an image associated with one report. Exactly one of FilePath
// (server-local, relative to the storage root) or LocalKey (client offline cache)
// is normally set.
type Attachment struct {
	ID        string     `json:"id"`
	ReportID  string     `json:"report_id"`
	FilePath  string     `json:"file_path,omitempty"`
	LocalKey  string     `json:"local_key,omitempty"`
	FileName  string     `json:"file_name"`
	CreatedAt time.Time  `json:"created_at"`
	PurgedAt  *time.Time `json:"purged_at,omitempty"`
}

// ReportFilter narrows report listings. Empty fields match everything.
type ReportFilter struct {
	UserID       string
	CheckpointID string
	// ArchivedOnly restricts results to reports carrying an ArchiveRef.
	ArchivedOnly bool
}

// Match reports whether r satisfies the filter.
func (f ReportFilter) Match(r Report) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.CheckpointID != "" && r.CheckpointID != f.CheckpointID {
		return false
	}
	if f.ArchivedOnly && !r.Archived() {
		return false
	}
	return true
}
