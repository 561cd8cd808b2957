// Package memory keeps archived exports in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/patrol-reporter/internal/archive"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// Uploader stores artifacts in-memory and returns pseudo URIs.
type Uploader struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads int
	failure error
}

// New creates an empty in-memory uploader.
func New() *Uploader {
	return &Uploader{objects: make(map[string][]byte)}
}

// Backend implements archive.Uploader.
func (u *Uploader) Backend() string { return "memory" }

// FailWith makes subsequent uploads return err; nil restores success.
func (u *Uploader) FailWith(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failure = err
}

// Upload reads the artifact file and keeps its bytes under the file name.
func (u *Uploader) Upload(ctx context.Context, a archive.Artifact) (patrol.ArchiveRef, error) {
	if err := ctx.Err(); err != nil {
		return patrol.ArchiveRef{}, err
	}
	u.mu.RLock()
	failure := u.failure
	u.mu.RUnlock()
	if failure != nil {
		return patrol.ArchiveRef{}, failure
	}

	f, err := a.Open()
	if err != nil {
		return patrol.ArchiveRef{}, err
	}
	defer f.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(f)
	if err != nil {
		return patrol.ArchiveRef{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[a.FileName] = data
	u.uploads++
	return patrol.ArchiveRef{
		URL:      fmt.Sprintf("memory://%s", a.FileName),
		ObjectID: a.FileName,
	}, nil
}

// Object returns a copy of the stored bytes.
func (u *Uploader) Object(name string) ([]byte, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	data, ok := u.objects[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Uploads counts successful uploads.
func (u *Uploader) Uploads() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.uploads
}
