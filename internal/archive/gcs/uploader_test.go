package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/patrol-reporter/internal/archive"
)

func newTestUploader(t *testing.T, handler http.Handler) *Uploader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	u, err := New(client, Config{Bucket: "patrol-archive", Prefix: "daily"})
	require.NoError(t, err)
	return u
}

func artifact(t *testing.T) archive.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), "16-10-2026-report.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.3 body"), 0o600))
	return archive.Artifact{Path: p, FileName: "16-10-2026-report.pdf", SHA256: "abc123"}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test cleanup
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestUploadWritesObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/patrol-archive/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "%PDF-1.3 body")
		assert.Contains(t, string(body), "daily/16-10-2026-report.pdf")
		assert.Contains(t, string(body), "abc123")
		fmt.Fprintln(w, `{"name": "daily/16-10-2026-report.pdf", "bucket": "patrol-archive"}`)
	})

	ref, err := newTestUploader(t, handler).Upload(context.Background(), artifact(t))
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/patrol-archive/daily/16-10-2026-report.pdf", ref.URL)
	require.Equal(t, "gs://patrol-archive/daily/16-10-2026-report.pdf", ref.ObjectID)
}

func TestUploadSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := newTestUploader(t, handler).Upload(context.Background(), artifact(t))
	require.Error(t, err)
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	u := newTestUploader(t, http.NotFoundHandler())
	_, err := u.Upload(context.Background(), archive.Artifact{Path: "/nonexistent/x.pdf", FileName: "x.pdf"})
	require.Error(t, err)
	_, err = u.Upload(context.Background(), archive.Artifact{Path: "/nonexistent/x.pdf"})
	require.Error(t, err)
}
