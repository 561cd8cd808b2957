package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/JakeFAU/patrol-reporter/internal/archive"
)

func TestUploaderStoresArtifacts(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "16-10-2026-report.pdf")
	if err := os.WriteFile(p, []byte("%PDF"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	u := New()
	ref, err := u.Upload(context.Background(), archive.Artifact{Path: p, FileName: "16-10-2026-report.pdf"})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ref.URL != "memory://16-10-2026-report.pdf" || !ref.Valid() {
		t.Fatalf("unexpected ref %+v", ref)
	}
	data, ok := u.Object("16-10-2026-report.pdf")
	if !ok || string(data) != "%PDF" {
		t.Fatalf("expected stored bytes, got %q ok=%v", data, ok)
	}
	if u.Uploads() != 1 {
		t.Fatalf("expected 1 upload, got %d", u.Uploads())
	}

	boom := errors.New("quota exceeded")
	u.FailWith(boom)
	if _, err := u.Upload(context.Background(), archive.Artifact{Path: p, FileName: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	u.FailWith(nil)
	if _, err := u.Upload(context.Background(), archive.Artifact{Path: "/missing", FileName: "x"}); err == nil {
		t.Fatal("expected missing file error")
	}
}
