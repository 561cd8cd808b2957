// Package publisher announces finished archives to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// EventArchiveCreated is the event type of ArchiveCreated.
const EventArchiveCreated = "archive.created"

// ArchiveCreated is emitted after a daily export was uploaded and stamped.
type ArchiveCreated struct {
	Event       string    `json:"event"`
	Day         string    `json:"day"`
	FileName    string    `json:"file_name"`
	Backend     string    `json:"backend"`
	URL         string    `json:"url"`
	ObjectID    string    `json:"object_id"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	ReportCount int       `json:"report_count"`
	ReportIDs   []string  `json:"report_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Publisher delivers archive events.
type Publisher interface {
	Publish(ctx context.Context, event ArchiveCreated) (string, error)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ArchiveCreated) (string, error) { return "", nil }
