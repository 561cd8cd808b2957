package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/storage/local"
	memstore "github.com/JakeFAU/patrol-reporter/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n), nil
}

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := calendar.LoadZone("")
	require.NoError(t, err)
	return loc
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	for x := 0; x < 12; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: 90, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// env wires a memory database with a local file store under a temp dir.
type env struct {
	loc   *time.Location
	store *memstore.Store
	files *local.FileStore
	dir   string
	seq   int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	loc := jakarta(t)
	st := memstore.New()
	st.AddUser(patrol.User{ID: "u1", FirstName: "Budi", LastName: "Santoso"})
	require.NoError(t, st.CreateCheckpoint(context.Background(), patrol.Checkpoint{ID: "c1", Name: "Main Gate"}))
	dir := t.TempDir()
	files, err := local.New(local.Config{BaseDir: dir, Location: loc})
	require.NoError(t, err)
	return &env{loc: loc, store: st, files: files, dir: dir}
}

// addReport inserts a report at created with one stored image per entry in images.
func (e *env) addReport(t *testing.T, created time.Time, images ...[]byte) patrol.Report {
	t.Helper()
	ctx := context.Background()
	e.seq++
	report := patrol.Report{
		ID:           fmt.Sprintf("r%02d", e.seq),
		UserID:       "u1",
		CheckpointID: "c1",
		Body:         fmt.Sprintf("round %d clear", e.seq),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	attachments := make([]patrol.Attachment, 0, len(images))
	for i, img := range images {
		rel, err := e.files.SaveAttachment(ctx, patrol.SaveRequest{
			UserID:       "u1",
			CheckpointID: "c1",
			At:           created,
			Upload:       patrol.Upload{FileName: "photo.png", Body: bytes.NewReader(img)},
		})
		require.NoError(t, err)
		attachments = append(attachments, patrol.Attachment{
			ID:        fmt.Sprintf("%s-a%d", report.ID, i),
			ReportID:  report.ID,
			FilePath:  rel,
			FileName:  "photo.png",
			CreatedAt: created,
		})
	}
	require.NoError(t, e.store.CreateReport(ctx, report, attachments))
	return report
}

func (e *env) archive(t *testing.T, ids ...string) {
	t.Helper()
	_, err := e.store.SetArchive(context.Background(), ids,
		patrol.ArchiveRef{URL: "memory://old.pdf", ObjectID: "old.pdf"}, time.Now())
	require.NoError(t, err)
}

func (e *env) report(t *testing.T, id string) patrol.Report {
	t.Helper()
	r, err := e.store.GetReport(context.Background(), id)
	require.NoError(t, err)
	return r
}
