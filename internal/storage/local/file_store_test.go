// Package local_test tests the local file store.
package local_test

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/storage/local"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	webpHeader = []byte("RIFF\x10\x00\x00\x00WEBPVP8 ")
)

func newStore(t *testing.T, maxBytes int64) (*local.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	store, err := local.New(local.Config{BaseDir: dir, MaxImageBytes: maxBytes, Location: loc})
	require.NoError(t, err)
	return store, dir
}

func saveRequest(body []byte) patrol.SaveRequest {
	return patrol.SaveRequest{
		UserID:       "user-1",
		CheckpointID: "cp/../1",
		// 18:30 UTC is the next day in Jakarta.
		At:     time.Date(2026, 10, 15, 18, 30, 0, 0, time.UTC),
		Upload: patrol.Upload{FileName: "photo", Body: bytes.NewReader(body)},
	}
}

func TestNew(t *testing.T) {
	t.Run("CreatesTree", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "uploads")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, filepath.Join(dir, "report-images"))
		assert.DirExists(t, filepath.Join(dir, "report-pdf"))
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("EscapingSubdirectory", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: t.TempDir(), ImagesDir: "../outside"})
		assert.Error(t, err)
	})
}

func TestSaveAttachment(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t, 1024)

	rel, err := store.SaveAttachment(context.Background(), saveRequest(webpHeader))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^report-images/report-user_1-cp_1-2026-10-16-[0-9a-f]{8}\.webp$`), rel)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, webpHeader, data)

	png, err := store.SaveAttachment(context.Background(), saveRequest(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(png, ".png"))
	assert.NotEqual(t, rel, png)
}

func TestSaveAttachmentRejectsBadUploads(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t, 32)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"too large", append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)},
	}
	for _, tc := range tests {
		_, err := store.SaveAttachment(context.Background(), saveRequest(tc.body))
		require.ErrorIs(t, err, patrol.ErrMissingField, tc.name)
		var fe *patrol.FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "images", fe.Field)
	}
}

func TestOpenAndRemove(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t, 0)
	ctx := context.Background()

	rel, err := store.SaveAttachment(ctx, saveRequest(pngHeader))
	require.NoError(t, err)

	rc, err := store.Open(rel)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pngHeader, data)

	require.NoError(t, store.Remove(ctx, rel))
	err = store.Remove(ctx, rel)
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = store.Open(rel)
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.Error(t, store.Remove(ctx, "../../etc/passwd"))
}

func TestPDFLifecycle(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t, 0)

	f, err := store.CreatePDF("16-10-2026-report.pdf")
	require.NoError(t, err)
	_, err = f.WriteString("%PDF-1.3")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	path, err := store.PDFPath("16-10-2026-report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-pdf", "16-10-2026-report.pdf"), path)
	assert.FileExists(t, path)

	require.NoError(t, store.RemovePDF("16-10-2026-report.pdf"))
	assert.NoFileExists(t, path)
	require.ErrorIs(t, store.RemovePDF("16-10-2026-report.pdf"), fs.ErrNotExist)
}
