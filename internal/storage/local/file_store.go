// Package local stores report attachments and export PDFs on the local filesystem.
package local

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// DefaultMaxImageBytes caps a single uploaded image at 5 MiB.
const DefaultMaxImageBytes int64 = 5 << 20

// Config captures the parameters for the local file store.
type Config struct {
	// BaseDir is the root directory; stored paths are relative to it.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// ImagesDir holds uploaded report images, relative to BaseDir.
	ImagesDir string `mapstructure:"images_dir" yaml:"images_dir"`
	// PDFDir holds rendered daily exports, relative to BaseDir.
	PDFDir string `mapstructure:"pdf_dir" yaml:"pdf_dir"`
	// MaxImageBytes limits each upload. Zero selects DefaultMaxImageBytes.
	MaxImageBytes int64 `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	// Location dates attachment file names. Nil means UTC.
	Location *time.Location `mapstructure:"-" yaml:"-"`
}

// FileStore implements patrol.AttachmentStore and manages the PDF directory.
type FileStore struct {
	baseDir  string
	images   string
	pdfs     string
	maxBytes int64
	loc      *time.Location
}

var allowedImageTypes = map[string]string{
	"image/webp": ".webp",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// New creates the directory tree and verifies it is writable.
func New(cfg Config) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.ImagesDir == "" {
		cfg.ImagesDir = "report-images"
	}
	if cfg.PDFDir == "" {
		cfg.PDFDir = "report-pdf"
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	s := &FileStore{
		baseDir:  filepath.Clean(cfg.BaseDir),
		images:   filepath.Clean(cfg.ImagesDir),
		pdfs:     filepath.Clean(cfg.PDFDir),
		maxBytes: cfg.MaxImageBytes,
		loc:      cfg.Location,
	}
	for _, dir := range []string{s.images, s.pdfs} {
		full, err := s.resolve(dir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(full, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	testFile := filepath.Join(s.baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return s, nil
}

// SaveAttachment validates the upload and writes it under the images directory.
// The file is named report-<user>-<checkpoint>-<YYYY-MM-DD>-<8 hex>.<ext>.
func (s *FileStore) SaveAttachment(ctx context.Context, req patrol.SaveRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Upload.Body == nil {
		return "", &patrol.FieldError{Field: "images", Reason: "empty upload"}
	}
	data, err := io.ReadAll(io.LimitReader(req.Upload.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return "", &patrol.FieldError{Field: "images", Reason: "empty upload"}
	}
	if int64(len(data)) > s.maxBytes {
		return "", &patrol.FieldError{
			Field:  "images",
			Reason: fmt.Sprintf("%s exceeds %d bytes", req.Upload.FileName, s.maxBytes),
		}
	}
	contentType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", &patrol.FieldError{
			Field:  "images",
			Reason: fmt.Sprintf("%s has unsupported type %s", req.Upload.FileName, contentType),
		}
	}

	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("report-%s-%s-%s-%s%s",
		safeSegment(req.UserID), safeSegment(req.CheckpointID),
		req.At.In(s.loc).Format("2006-01-02"), suffix, ext)
	rel := filepath.Join(s.images, name)
	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 -- resolved under baseDir.
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Remove deletes a stored file. A missing file yields an error wrapping fs.ErrNotExist.
func (s *FileStore) Remove(_ context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("remove %s: %w", relPath, err)
	}
	return nil
}

// Open returns a reader for a stored file.
func (s *FileStore) Open(relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) // #nosec G304 -- resolved under baseDir.
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", relPath, err)
	}
	return f, nil
}

// PDFPath returns the absolute location of an export file name.
func (s *FileStore) PDFPath(fileName string) (string, error) {
	return s.resolve(filepath.Join(s.pdfs, filepath.Base(fileName)))
}

// CreatePDF creates or truncates an export file and returns it open for writing.
func (s *FileStore) CreatePDF(fileName string) (*os.File, error) {
	full, err := s.PDFPath(fileName)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- resolved under baseDir.
	if err != nil {
		return nil, fmt.Errorf("create pdf %s: %w", fileName, err)
	}
	return f, nil
}

// RemovePDF deletes an export file. A missing file yields an error wrapping fs.ErrNotExist.
func (s *FileStore) RemovePDF(fileName string) error {
	full, err := s.PDFPath(fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("remove pdf %s: %w", fileName, err)
	}
	return nil
}

func (s *FileStore) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(rel)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func safeSegment(v string) string {
	v = unsafeNameChars.ReplaceAllString(v, "_")
	if v == "" {
		return "unknown"
	}
	return v
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate file suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
