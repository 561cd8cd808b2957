package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/aggregate"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/ingest"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// maxImagesPerReport bounds the multipart body together with MaxUploadBytes.
const maxImagesPerReport = 10

type attachmentDTO struct {
	ID       string     `json:"id"`
	FileName string     `json:"file_name"`
	FilePath string     `json:"file_path,omitempty"`
	LocalKey string     `json:"local_key,omitempty"`
	PurgedAt *time.Time `json:"purged_at,omitempty"`
}

type reportDTO struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	UserName       string          `json:"user_name,omitempty"`
	CheckpointID   string          `json:"checkpoint_id"`
	CheckpointName string          `json:"checkpoint_name,omitempty"`
	Report         string          `json:"report"`
	CreatedAt      time.Time       `json:"created_at"`
	ArchiveURL     string          `json:"archive_url,omitempty"`
	ArchiveID      string          `json:"archive_object_id,omitempty"`
	Attachments    []attachmentDTO `json:"attachments"`
}

func toReportDTO(r patrol.Report, loc *time.Location) reportDTO {
	dto := reportDTO{
		ID:           r.ID,
		UserID:       r.UserID,
		CheckpointID: r.CheckpointID,
		Report:       r.Body,
		CreatedAt:    r.CreatedAt.In(loc),
		Attachments:  make([]attachmentDTO, 0, len(r.Attachments)),
	}
	if r.Archived() {
		dto.ArchiveURL = r.Archive.URL
		dto.ArchiveID = r.Archive.ObjectID
	}
	for _, a := range r.Attachments {
		dto.Attachments = append(dto.Attachments, attachmentDTO{
			ID:       a.ID,
			FileName: a.FileName,
			FilePath: a.FilePath,
			LocalKey: a.LocalKey,
			PurgedAt: a.PurgedAt,
		})
	}
	return dto
}

// createReport handles POST /v1/reports as multipart/form-data.
func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest unavailable")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes*maxImagesPerReport+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files

	sub := ingest.Submission{
		UserID:       r.FormValue("user_id"),
		CheckpointID: r.FormValue("checkpoint_id"),
		Body:         r.FormValue("report"),
		LocalKeys:    r.MultipartForm.Value["local_keys"],
	}
	var err error
	if sub.Latitude, err = formFloat(r, "latitude"); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if sub.Longitude, err = formFloat(r, "longitude"); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if sub.Accuracy, err = formFloat(r, "accuracy"); err != nil {
		s.writeDomainError(w, err)
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) > maxImagesPerReport {
		s.writeDomainError(w, &patrol.FieldError{Field: "images", Reason: "at most " + strconv.Itoa(maxImagesPerReport) + " images"})
		return
	}
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeDomainError(w, &patrol.FieldError{Field: "images", Reason: "unreadable upload"})
			return
		}
		files = append(files, f)
		sub.Uploads = append(sub.Uploads, patrol.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}

	report, err := s.deps.Submitter.Create(r.Context(), sub)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": toReportDTO(report, s.opts.Location)})
}

func formFloat(r *http.Request, field string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &patrol.FieldError{Field: field, Reason: "must be a number"}
	}
	return &v, nil
}

// reportsByDate handles GET /v1/reports/date/{date}.
func (s *Server) reportsByDate(w http.ResponseWriter, r *http.Request) {
	day, err := calendar.ParseDate(chi.URLParam(r, "date"), s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	set, err := s.deps.Reports.ReportsInRange(r.Context(), calendar.DayWindow(day, s.opts.Location), aggregate.Filter{
		UserID:       q.Get("user_id"),
		CheckpointID: q.Get("checkpoint_id"),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]reportDTO, 0, len(set.Entries))
	for _, e := range set.Entries {
		dto := toReportDTO(e.Report, s.opts.Location)
		dto.UserName = e.UserName
		dto.CheckpointName = e.CheckpointName
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    day.Format(calendar.DateLayout),
		"count":   len(out),
		"reports": out,
	})
}

// getReport handles GET /v1/reports/{report_id}.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.ReportStore.GetReport(r.Context(), chi.URLParam(r, "report_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": toReportDTO(report, s.opts.Location)})
}

// deleteReport handles DELETE /v1/reports/{report_id}. Rows go first; file
// removal is best-effort.
func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "report_id")
	removed, err := s.deps.ReportStore.DeleteReport(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	filesRemoved := 0
	for _, a := range removed {
		if a.FilePath == "" || a.PurgedAt != nil || s.deps.Files == nil {
			continue
		}
		if err := s.deps.Files.Remove(r.Context(), a.FilePath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to remove attachment of deleted report",
					zap.String("report_id", id), zap.String("path", a.FilePath), zap.Error(err))
			}
			continue
		}
		filesRemoved++
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "files_removed": filesRemoved})
}

type exportRequest struct {
	Date         string `json:"date"`
	UserID       string `json:"user_id"`
	CheckpointID string `json:"checkpoint_id"`
}

// exportPDF handles POST /v1/reports/export/pdf and streams the rendered document.
func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "renderer unavailable")
		return
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	day, err := calendar.ParseDate(req.Date, s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	set, err := s.deps.Reports.ReportsInRange(r.Context(), calendar.DayWindow(day, s.opts.Location), aggregate.Filter{
		UserID:       req.UserID,
		CheckpointID: req.CheckpointID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if set.Empty() {
		writeError(w, http.StatusNotFound, "no reports for "+day.Format(calendar.DateLayout))
		return
	}

	var buf bytes.Buffer
	summary, err := s.deps.Renderer.Render(r.Context(), set, &buf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	name := calendar.PDFFileName(day, s.opts.Location)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Report-Count", strconv.Itoa(summary.Reports))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("failed to stream pdf", zap.String("file", name), zap.Error(err))
	}
}
