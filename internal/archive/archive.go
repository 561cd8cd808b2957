// Package archive defines how rendered PDF exports leave the host. Backends
// live in subpackages and return the reference stamped onto archived reports.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// PDFContentType is the MIME type of every export.
const PDFContentType = "application/pdf"

// Artifact is a rendered file ready for upload.
type Artifact struct {
	// Path is the local file to upload.
	Path        string
	FileName    string
	ContentType string
	SHA256      string
	Size        int64
	// Day is local midnight of the exported day.
	Day time.Time
}

// Uploader stores an artifact remotely.
type Uploader interface {
	Upload(ctx context.Context, a Artifact) (patrol.ArchiveRef, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// ObjectName joins an optional prefix and the artifact file name.
func ObjectName(prefix, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fileName
	}
	return path.Join(prefix, fileName)
}

// Open opens the artifact file for reading.
func (a Artifact) Open() (*os.File, error) {
	f, err := os.Open(a.Path) // #nosec G304 -- path produced by the exporter.
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Type returns ContentType or the PDF default.
func (a Artifact) Type() string {
	if a.ContentType == "" {
		return PDFContentType
	}
	return a.ContentType
}
