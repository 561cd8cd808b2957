// Package pdf renders a day of patrol reports into a paginated PDF document
// with a report table and a thumbnail grid of each report's photos.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoding
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // register WEBP decoding

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// MissingImageText is drawn in place of an attachment that cannot be loaded.
const MissingImageText = "Image not found"

const (
	pageMargin  = 10.0
	lineHeight  = 5.0
	thumbSize   = 44.0
	thumbsInRow = 4
	jpegQuality = 80
)

const (
	headerHeight = 7.0
	// minSplitLines is the shortest band a split row leaves at a page bottom.
	minSplitLines = 3
)

var (
	columnTitles = []string{"No", "Time", "Officer", "Checkpoint", "Report"}
	columnWidths = []float64{10, 18, 40, 40, 82}

	errNoFile = errors.New("attachment has no server file")
)

// ImageSource opens stored attachment files by relative path.
type ImageSource interface {
	Open(relPath string) (io.ReadCloser, error)
}

// Options tunes the renderer.
type Options struct {
	Title    string
	Location *time.Location
	// DisableCompression writes uncompressed content streams.
	DisableCompression bool
	Logger             *zap.Logger
}

// Summary describes a rendered document.
type Summary struct {
	Pages         int
	Reports       int
	Images        int
	MissingImages int
}

// Renderer draws report sets with fpdf.
type Renderer struct {
	images   ImageSource
	title    string
	loc      *time.Location
	compress bool
	logger   *zap.Logger
}

// New constructs a Renderer reading photos from images.
func New(images ImageSource, opts Options) *Renderer {
	title := opts.Title
	if title == "" {
		title = "Patrol Report"
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		images:   images,
		title:    title,
		loc:      loc,
		compress: !opts.DisableCompression,
		logger:   logger.Named("pdf"),
	}
}

// Render writes the PDF for set to w. A context deadline aborts between rows.
func (r *Renderer) Render(ctx context.Context, set aggregate.ReportSet, w io.Writer) (Summary, error) {
	d := r.newDocument()
	d.titleBlock(set)
	d.tableHeader()

	for i, entry := range set.Entries {
		if err := ctx.Err(); err != nil {
			return Summary{}, fmt.Errorf("render aborted: %w", err)
		}
		d.row([]string{
			strconv.Itoa(i + 1),
			entry.Report.CreatedAt.In(r.loc).Format("15:04"),
			entry.UserName,
			entry.CheckpointName,
			entry.Report.Body,
		})
		if len(entry.Attachments) > 0 {
			d.thumbnails(entry.Attachments)
		}
		d.summary.Reports++
	}
	if len(set.Entries) == 0 {
		d.pdf.SetFont("Helvetica", "I", 10)
		d.pdf.CellFormat(0, 8, "No reports for this period.", "", 1, "L", false, 0, "")
	}

	d.summary.Pages = d.pdf.PageNo()
	if err := d.pdf.Output(w); err != nil {
		return Summary{}, fmt.Errorf("write pdf: %w", err)
	}
	return d.summary, nil
}

type document struct {
	r       *Renderer
	pdf     *fpdf.Fpdf
	tr      func(string) string
	width   float64
	bottom  float64
	summary Summary
}

func (r *Renderer) newDocument() *document {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle(r.title, true)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-pageMargin)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	return &document{
		r:      r,
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		width:  pageW - 2*pageMargin,
		bottom: pageH - 2*pageMargin,
	}
}

func (d *document) titleBlock(set aggregate.ReportSet) {
	d.pdf.SetFont("Helvetica", "B", 16)
	d.pdf.CellFormat(0, 9, d.tr(d.r.title), "", 1, "C", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 10)
	day := set.Window.Start.In(d.r.loc).Format("Monday, 02 January 2006")
	d.pdf.CellFormat(0, 6, d.tr(day), "", 1, "C", false, 0, "")
	d.pdf.CellFormat(0, 6, fmt.Sprintf("%d reports", len(set.Entries)), "", 1, "C", false, 0, "")
	d.pdf.Ln(3)
}

func (d *document) tableHeader() {
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.SetFillColor(225, 225, 225)
	for i, title := range columnTitles {
		d.pdf.CellFormat(columnWidths[i], headerHeight, title, "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)
	d.pdf.SetFont("Helvetica", "", 9)
}

// ensureSpace starts a new page when h would overflow the current one.
func (d *document) ensureSpace(h float64, withHeader bool) {
	if d.pdf.GetY()+h <= d.bottom {
		return
	}
	d.pdf.AddPage()
	if withHeader {
		d.tableHeader()
	}
}

// row draws one table row. A row taller than the space left is split across
// pages, repeating the table header on each continuation page.
func (d *document) row(cells []string) {
	lines := make([][][]byte, len(cells))
	n := 1
	for i, text := range cells {
		lines[i] = d.pdf.SplitLines([]byte(d.tr(text)), columnWidths[i]-2)
		if len(lines[i]) > n {
			n = len(lines[i])
		}
	}
	for start := 0; start < n; {
		left, rest := d.linesLeft(), n-start
		// Move to a fresh page rather than leave a sliver, or split a row that fits whole.
		if left < rest && (left < minSplitLines || (start == 0 && rest <= d.linesPerPage())) {
			d.newTablePage()
			continue
		}
		end := start + min(left, rest)
		d.segment(lines, start, end)
		start = end
		if start < n {
			d.newTablePage()
		}
	}
}

// segment draws wrapped lines [start, end) of every cell as one bordered band.
func (d *document) segment(lines [][][]byte, start, end int) {
	h := float64(end-start)*lineHeight + 2
	x, y := pageMargin, d.pdf.GetY()
	for i, cell := range lines {
		d.pdf.Rect(x, y, columnWidths[i], h, "D")
		for li := start; li < end && li < len(cell); li++ {
			d.pdf.SetXY(x+1, y+1+float64(li-start)*lineHeight)
			d.pdf.CellFormat(columnWidths[i]-2, lineHeight, string(cell[li]), "", 0, "L", false, 0, "")
		}
		x += columnWidths[i]
	}
	d.pdf.SetXY(pageMargin, y+h)
}

func (d *document) newTablePage() {
	d.pdf.AddPage()
	d.tableHeader()
}

// linesLeft is how many wrapped lines fit between the cursor and the page bottom.
func (d *document) linesLeft() int {
	return max(0, int(math.Floor((d.bottom-d.pdf.GetY()-2)/lineHeight)))
}

// linesPerPage is how many wrapped lines fit below the header of a fresh page.
func (d *document) linesPerPage() int {
	return int(math.Floor((d.bottom - pageMargin - headerHeight - 2) / lineHeight))
}

func (d *document) thumbnails(attachments []patrol.Attachment) {
	gap := (d.width - thumbsInRow*thumbSize) / (thumbsInRow - 1)
	d.pdf.Ln(2)
	for i, att := range attachments {
		col := i % thumbsInRow
		if col == 0 {
			if i > 0 {
				d.pdf.SetY(d.pdf.GetY() + thumbSize + gap/2)
			}
			d.ensureSpace(thumbSize+2, false)
		}
		x := pageMargin + float64(col)*(thumbSize+gap)
		y := d.pdf.GetY()
		d.image(att, x, y)
	}
	d.pdf.SetXY(pageMargin, d.pdf.GetY()+thumbSize+4)
}

func (d *document) image(att patrol.Attachment, x, y float64) {
	data, err := d.r.load(att)
	if err != nil {
		d.r.logger.Warn("attachment not rendered",
			zap.String("attachment_id", att.ID),
			zap.String("file_path", att.FilePath),
			zap.Error(err),
		)
		d.summary.MissingImages++
		d.placeholder(x, y)
		return
	}
	info := d.pdf.RegisterImageOptionsReader("att-"+att.ID, fpdf.ImageOptions{ImageType: "JPG"}, bytes.NewReader(data))
	if info == nil || d.pdf.Err() {
		d.summary.MissingImages++
		d.pdf.ClearError()
		d.placeholder(x, y)
		return
	}
	w, h := fit(info.Width(), info.Height(), thumbSize)
	d.pdf.ImageOptions("att-"+att.ID, x+(thumbSize-w)/2, y+(thumbSize-h)/2, w, h, false,
		fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	d.summary.Images++
}

func (d *document) placeholder(x, y float64) {
	d.pdf.SetDrawColor(160, 160, 160)
	d.pdf.Rect(x, y, thumbSize, thumbSize, "D")
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetXY(x, y+thumbSize/2-lineHeight/2)
	d.pdf.SetFont("Helvetica", "I", 8)
	d.pdf.CellFormat(thumbSize, lineHeight, MissingImageText, "", 0, "C", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.SetY(y)
}

// load decodes a stored photo and re-encodes it as JPEG, flattening alpha onto white.
func (r *Renderer) load(att patrol.Attachment) ([]byte, error) {
	if att.FilePath == "" || att.PurgedAt != nil || r.images == nil {
		return nil, errNoFile
	}
	rc, err := r.images.Open(att.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck // read-only handle
	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", att.FilePath, err)
	}
	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode %s: %w", att.FilePath, err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, box float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return box, box
	}
	if w >= h {
		return box, box * h / w
	}
	return box * w / h, box
}
