// Package aggregate loads the reports of a time window joined with their
// officers, checkpoints and attachments using batched queries.
package aggregate

import (
	"context"
	"errors"
	"sort"

	"github.com/JakeFAU/patrol-reporter/internal/calendar"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// Unknown labels a user or checkpoint that no longer resolves.
const Unknown = "unknown"

// Filter narrows an aggregation. Empty fields match everything.
type Filter struct {
	UserID       string
	CheckpointID string
	ArchivedOnly bool
}

// Entry is one report with its resolved display names.
type Entry struct {
	Report         patrol.Report
	UserName       string
	CheckpointName string
	Attachments    []patrol.Attachment
}

// ReportSet is the result of one aggregation.
type ReportSet struct {
	Window  calendar.Window
	Entries []Entry
	// AttachmentsByReport groups every attachment by report ID.
	AttachmentsByReport map[string][]patrol.Attachment
}

// Empty reports whether the window held no reports.
func (s ReportSet) Empty() bool { return len(s.Entries) == 0 }

// ReportIDs returns the IDs of every entry in order.
func (s ReportSet) ReportIDs() []string {
	ids := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.Report.ID
	}
	return ids
}

// AllArchived reports whether every entry already carries an archive reference.
func (s ReportSet) AllArchived() bool {
	for _, e := range s.Entries {
		if !e.Report.Archived() {
			return false
		}
	}
	return len(s.Entries) > 0
}

// Aggregator runs the batched lookups.
type Aggregator struct {
	users       patrol.UserStore
	checkpoints patrol.CheckpointStore
	reports     patrol.ReportStore
}

// New constructs an Aggregator.
func New(users patrol.UserStore, checkpoints patrol.CheckpointStore, reports patrol.ReportStore) (*Aggregator, error) {
	if users == nil || checkpoints == nil || reports == nil {
		return nil, errors.New("aggregate: user, checkpoint and report stores are required")
	}
	return &Aggregator{users: users, checkpoints: checkpoints, reports: reports}, nil
}

// ReportsInRange returns the reports created in w ascending by creation time.
// Users, checkpoints and attachments are each fetched with one query.
func (a *Aggregator) ReportsInRange(ctx context.Context, w calendar.Window, f Filter) (ReportSet, error) {
	set := ReportSet{Window: w, AttachmentsByReport: map[string][]patrol.Attachment{}}

	reports, err := a.reports.ListReports(ctx, w.Start, w.End, patrol.ReportFilter{
		UserID:       f.UserID,
		CheckpointID: f.CheckpointID,
		ArchivedOnly: f.ArchivedOnly,
	})
	if err != nil {
		return ReportSet{}, patrol.Internal("list reports", err)
	}
	if len(reports) == 0 {
		return set, nil
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].CreatedAt.Before(reports[j].CreatedAt) })

	reportIDs := make([]string, 0, len(reports))
	userIDs := distinct(reports, func(r patrol.Report) string { return r.UserID })
	checkpointIDs := distinct(reports, func(r patrol.Report) string { return r.CheckpointID })
	for _, r := range reports {
		reportIDs = append(reportIDs, r.ID)
	}

	users, err := a.users.GetUsers(ctx, userIDs)
	if err != nil {
		return ReportSet{}, patrol.Internal("resolve users", err)
	}
	checkpoints, err := a.checkpoints.GetCheckpoints(ctx, checkpointIDs)
	if err != nil {
		return ReportSet{}, patrol.Internal("resolve checkpoints", err)
	}
	attachments, err := a.reports.ListAttachments(ctx, reportIDs)
	if err != nil {
		return ReportSet{}, patrol.Internal("list attachments", err)
	}
	for _, att := range attachments {
		set.AttachmentsByReport[att.ReportID] = append(set.AttachmentsByReport[att.ReportID], att)
	}

	set.Entries = make([]Entry, 0, len(reports))
	for _, r := range reports {
		entry := Entry{
			Report:         r,
			UserName:       Unknown,
			CheckpointName: Unknown,
			Attachments:    set.AttachmentsByReport[r.ID],
		}
		if u, ok := users[r.UserID]; ok && u.DisplayName() != "" {
			entry.UserName = u.DisplayName()
		}
		if cp, ok := checkpoints[r.CheckpointID]; ok && cp.Name != "" {
			entry.CheckpointName = cp.Name
		}
		entry.Report.Attachments = entry.Attachments
		set.Entries = append(set.Entries, entry)
	}
	return set, nil
}

func distinct(reports []patrol.Report, key func(patrol.Report) string) []string {
	seen := make(map[string]struct{}, len(reports))
	out := make([]string, 0, len(reports))
	for _, r := range reports {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
