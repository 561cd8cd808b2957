package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

type mapSource map[string][]byte

func (m mapSource) Open(relPath string) (io.ReadCloser, error) {
	data, ok := m[relPath]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: 120, B: uint8(y * 8), A: 200})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func reportSet(t *testing.T, n int, attachments ...patrol.Attachment) aggregate.ReportSet {
	t.Helper()
	loc, err := calendar.LoadZone("")
	require.NoError(t, err)
	day := calendar.DayWindow(time.Date(2026, 10, 16, 8, 0, 0, 0, loc), loc)
	set := aggregate.ReportSet{Window: day, AttachmentsByReport: map[string][]patrol.Attachment{}}
	for i := 0; i < n; i++ {
		e := aggregate.Entry{
			Report: patrol.Report{
				ID:        "r" + string(rune('a'+i%26)),
				Body:      strings.Repeat("Perimeter fence checked, lights on. ", 1+i%4),
				CreatedAt: day.Start.Add(time.Duration(i) * time.Minute),
			},
			UserName:       "Budi Santoso",
			CheckpointName: "main gate",
		}
		if i == 0 {
			e.Attachments = attachments
		}
		set.Entries = append(set.Entries, e)
	}
	return set
}

func TestRenderEmbedsImagesAndPlaceholders(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"report-images/wide.png": pngImage(t, 30, 20),
		"report-images/tall.png": pngImage(t, 10, 25),
		"report-images/bad.png":  []byte("not an image"),
	}
	purged := time.Now()
	set := reportSet(t, 2,
		patrol.Attachment{ID: "a1", FilePath: "report-images/wide.png"},
		patrol.Attachment{ID: "a2", FilePath: "report-images/tall.png"},
		patrol.Attachment{ID: "a3", FilePath: "report-images/gone.png"},
		patrol.Attachment{ID: "a4", FilePath: "report-images/bad.png"},
		patrol.Attachment{ID: "a5", LocalKey: "offline"},
		patrol.Attachment{ID: "a6", FilePath: "report-images/wide.png", PurgedAt: &purged},
	)

	r := New(src, Options{Location: set.Window.Start.Location(), DisableCompression: true})
	var out bytes.Buffer
	summary, err := r.Render(context.Background(), set, &out)
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(out.Bytes(), []byte("%PDF-")))
	require.Contains(t, out.String(), MissingImageText)
	require.Equal(t, 2, summary.Reports)
	require.Equal(t, 2, summary.Images)
	require.Equal(t, 4, summary.MissingImages)
	require.Equal(t, 1, summary.Pages)
}

func TestRenderPaginatesLongDays(t *testing.T) {
	t.Parallel()

	set := reportSet(t, 120)
	var out bytes.Buffer
	summary, err := New(mapSource{}, Options{}).Render(context.Background(), set, &out)
	require.NoError(t, err)
	require.Greater(t, summary.Pages, 1)
	require.Equal(t, 120, summary.Reports)
}

func TestRenderSplitsRowTallerThanPage(t *testing.T) {
	t.Parallel()

	// Each token fills most of the report column, so it wraps to its own line.
	const lines = 130
	tokens := make([]string, lines)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("Line%03d%s", i, strings.Repeat("x", 28))
	}
	set := reportSet(t, 1)
	set.Entries[0].Report.Body = strings.Join(tokens, " ")

	var out bytes.Buffer
	summary, err := New(mapSource{}, Options{DisableCompression: true}).Render(context.Background(), set, &out)
	require.NoError(t, err)
	// 46 lines below the title block, then 51 per continuation page.
	require.Equal(t, 3, summary.Pages)

	_, pageHeightPt := fpdf.New("P", "pt", "A4", "").GetPageSize()
	textOp := regexp.MustCompile(`BT -?[\d.]+ (-?[\d.]+) Td \((Line\d{3})x*\)Tj ET`)
	seen := map[string]bool{}
	for _, m := range textOp.FindAllStringSubmatch(out.String(), -1) {
		y, err := strconv.ParseFloat(m[1], 64)
		require.NoError(t, err)
		require.Greater(t, y, 0.0, "%s drawn below the page", m[2])
		require.Less(t, y, pageHeightPt, "%s drawn above the page", m[2])
		seen[m[2]] = true
	}
	require.Len(t, seen, lines)
	require.Equal(t, 3, strings.Count(out.String(), "(Report)Tj"), "header repeated on each page")
}

func TestRenderEmptySet(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	summary, err := New(nil, Options{DisableCompression: true}).Render(context.Background(), reportSet(t, 0), &out)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Pages)
	require.Contains(t, out.String(), "No reports for this period.")
}

func TestRenderHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	_, err := New(mapSource{}, Options{}).Render(ctx, reportSet(t, 3), &out)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, out.Len())
}

func TestFitKeepsAspectRatio(t *testing.T) {
	t.Parallel()

	w, h := fit(200, 100, 40)
	require.Equal(t, 40.0, w)
	require.Equal(t, 20.0, h)
	w, h = fit(50, 100, 40)
	require.Equal(t, 20.0, w)
	require.Equal(t, 40.0, h)
	w, h = fit(0, 0, 40)
	require.Equal(t, 40.0, w)
	require.Equal(t, 40.0, h)
}
