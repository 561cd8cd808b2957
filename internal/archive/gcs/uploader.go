// Package gcs archives exports to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/patrol-reporter/internal/archive"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes artifacts to the configured bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Backend implements archive.Uploader.
func (u *Uploader) Backend() string { return "gcs" }

// Upload streams the artifact into the bucket. The object name is derived
// from the file name, so re-exporting a day overwrites the same object.
func (u *Uploader) Upload(ctx context.Context, a archive.Artifact) (patrol.ArchiveRef, error) {
	if strings.TrimSpace(a.FileName) == "" {
		return patrol.ArchiveRef{}, fmt.Errorf("file name is required")
	}
	f, err := a.Open()
	if err != nil {
		return patrol.ArchiveRef{}, err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	object := archive.ObjectName(u.prefix, a.FileName)
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = a.Type()
	if a.SHA256 != "" {
		writer.Metadata = map[string]string{"sha256": a.SHA256}
	}
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return patrol.ArchiveRef{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return patrol.ArchiveRef{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return patrol.ArchiveRef{}, fmt.Errorf("close writer: %w", err)
	}
	return patrol.ArchiveRef{
		URL:      fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, object),
		ObjectID: fmt.Sprintf("gs://%s/%s", u.bucket, object),
	}, nil
}
