// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
	"github.com/JakeFAU/patrol-reporter/internal/store"
)

// Store implements patrol.Store and store.JobRunRepository behind one mutex.
type Store struct {
	mu          sync.RWMutex
	users       map[string]patrol.User
	checkpoints map[string]patrol.Checkpoint
	reports     map[string]patrol.Report
	attachments map[string]patrol.Attachment
	runs        map[string]store.JobRun
	calls       map[string]int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]patrol.User),
		checkpoints: make(map[string]patrol.Checkpoint),
		reports:     make(map[string]patrol.Report),
		attachments: make(map[string]patrol.Attachment),
		runs:        make(map[string]store.JobRun),
		calls:       make(map[string]int),
	}
}

// AddUser seeds a user. Users are owned by another system.
func (s *Store) AddUser(u patrol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Calls returns how many times the named method ran.
func (s *Store) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (patrol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetUser"]++
	u, ok := s.users[id]
	if !ok {
		return patrol.User{}, &patrol.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}

// GetUsers returns the known users among ids.
func (s *Store) GetUsers(_ context.Context, ids []string) (map[string]patrol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetUsers"]++
	out := make(map[string]patrol.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// CreateCheckpoint stores a checkpoint with a normalized, unique name.
func (s *Store) CreateCheckpoint(_ context.Context, cp patrol.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Name = patrol.NormalizeCheckpointName(cp.Name)
	if _, exists := s.checkpoints[cp.ID]; exists {
		return &patrol.ConflictError{Entity: "checkpoint", Reason: "id already exists"}
	}
	for _, existing := range s.checkpoints {
		if existing.Name == cp.Name {
			return &patrol.ConflictError{Entity: "checkpoint", Reason: fmt.Sprintf("name %q already exists", cp.Name)}
		}
	}
	s.checkpoints[cp.ID] = cp
	return nil
}

// GetCheckpoint fetches a checkpoint by ID.
func (s *Store) GetCheckpoint(_ context.Context, id string) (patrol.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetCheckpoint"]++
	cp, ok := s.checkpoints[id]
	if !ok {
		return patrol.Checkpoint{}, &patrol.NotFoundError{Entity: "checkpoint", ID: id}
	}
	return cp, nil
}

// GetCheckpoints returns the known checkpoints among ids.
func (s *Store) GetCheckpoints(_ context.Context, ids []string) (map[string]patrol.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetCheckpoints"]++
	out := make(map[string]patrol.Checkpoint, len(ids))
	for _, id := range ids {
		if cp, ok := s.checkpoints[id]; ok {
			out[id] = cp
		}
	}
	return out, nil
}

// ListCheckpoints returns all checkpoints ordered by name.
func (s *Store) ListCheckpoints(_ context.Context) ([]patrol.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]patrol.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteCheckpoint removes a checkpoint no report references.
func (s *Store) DeleteCheckpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[id]; !ok {
		return &patrol.NotFoundError{Entity: "checkpoint", ID: id}
	}
	refs := 0
	for _, r := range s.reports {
		if r.CheckpointID == id {
			refs++
		}
	}
	if refs > 0 {
		return &patrol.ConflictError{Entity: "checkpoint", Reason: fmt.Sprintf("referenced by %d reports", refs)}
	}
	delete(s.checkpoints, id)
	return nil
}

// CreateReport inserts the report and its attachments atomically.
func (s *Store) CreateReport(_ context.Context, report patrol.Report, attachments []patrol.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.ID]; exists {
		return &patrol.ConflictError{Entity: "report", Reason: "id already exists"}
	}
	if _, ok := s.users[report.UserID]; !ok {
		return &patrol.NotFoundError{Entity: "user", ID: report.UserID}
	}
	if _, ok := s.checkpoints[report.CheckpointID]; !ok {
		return &patrol.NotFoundError{Entity: "checkpoint", ID: report.CheckpointID}
	}
	for _, a := range attachments {
		if _, exists := s.attachments[a.ID]; exists {
			return &patrol.ConflictError{Entity: "attachment", Reason: "id already exists"}
		}
	}
	report.Attachments = nil
	s.reports[report.ID] = report
	for _, a := range attachments {
		a.ReportID = report.ID
		s.attachments[a.ID] = a
	}
	return nil
}

// GetReport fetches a report with its attachments.
func (s *Store) GetReport(_ context.Context, id string) (patrol.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return patrol.Report{}, &patrol.NotFoundError{Entity: "report", ID: id}
	}
	r.Attachments = s.attachmentsFor(map[string]struct{}{id: {}})
	return copyReport(r), nil
}

// ListReports returns reports created in [start, end] ascending by creation time.
func (s *Store) ListReports(
	_ context.Context,
	start, end time.Time,
	filter patrol.ReportFilter,
) ([]patrol.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListReports"]++
	var out []patrol.Report
	for _, r := range s.reports {
		if r.CreatedAt.Before(start) || r.CreatedAt.After(end) || !filter.Match(r) {
			continue
		}
		out = append(out, copyReport(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListAttachments returns the attachments of every listed report.
func (s *Store) ListAttachments(_ context.Context, reportIDs []string) ([]patrol.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListAttachments"]++
	set := make(map[string]struct{}, len(reportIDs))
	for _, id := range reportIDs {
		set[id] = struct{}{}
	}
	return s.attachmentsFor(set), nil
}

// SetArchive stamps ref on every listed report.
func (s *Store) SetArchive(
	_ context.Context,
	reportIDs []string,
	ref patrol.ArchiveRef,
	at time.Time,
) (int64, error) {
	if !ref.Valid() {
		return 0, fmt.Errorf("archive reference requires url and object id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["SetArchive"]++
	var n int64
	for _, id := range reportIDs {
		r, ok := s.reports[id]
		if !ok {
			continue
		}
		archive := ref
		r.Archive = &archive
		r.UpdatedAt = at
		s.reports[id] = r
		n++
	}
	return n, nil
}

// DeleteAttachments removes attachment rows.
func (s *Store) DeleteAttachments(_ context.Context, attachmentIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range attachmentIDs {
		if _, ok := s.attachments[id]; ok {
			delete(s.attachments, id)
			n++
		}
	}
	return n, nil
}

// MarkAttachmentsPurged stamps purged_at on rows not yet purged.
func (s *Store) MarkAttachmentsPurged(_ context.Context, attachmentIDs []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range attachmentIDs {
		a, ok := s.attachments[id]
		if !ok || a.PurgedAt != nil {
			continue
		}
		ts := at
		a.PurgedAt = &ts
		s.attachments[id] = a
		n++
	}
	return n, nil
}

// DeleteReport removes a report and its attachment rows.
func (s *Store) DeleteReport(_ context.Context, id string) ([]patrol.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return nil, &patrol.NotFoundError{Entity: "report", ID: id}
	}
	removed := s.attachmentsFor(map[string]struct{}{id: {}})
	for _, a := range removed {
		delete(s.attachments, a.ID)
	}
	delete(s.reports, id)
	return removed, nil
}

// StartRun records a running job.
func (s *Store) StartRun(_ context.Context, run store.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("job run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = store.RunRunning
	}
	s.runs[run.ID] = run
	return nil
}

// CompleteRun finalizes a run.
func (s *Store) CompleteRun(
	_ context.Context,
	id string,
	finishedAt time.Time,
	status store.JobRunStatus,
	errMsg *string,
	detail string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ErrorMessage = errMsg
	run.Detail = detail
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, id string) (store.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, filter store.RunFilter, limit, offset int) ([]store.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.JobRun
	for _, run := range s.runs {
		if filter.Job != nil && run.Job != *filter.Job {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return []store.JobRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) attachmentsFor(reportIDs map[string]struct{}) []patrol.Attachment {
	var out []patrol.Attachment
	for _, a := range s.attachments {
		if _, ok := reportIDs[a.ReportID]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyReport(r patrol.Report) patrol.Report {
	if r.Archive != nil {
		archive := *r.Archive
		r.Archive = &archive
	}
	if r.Attachments != nil {
		r.Attachments = append([]patrol.Attachment(nil), r.Attachments...)
	}
	return r
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
