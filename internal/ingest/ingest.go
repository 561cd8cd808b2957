// Package ingest validates and persists patrol report submissions.
//
// Checks run in a fixed order: required fields, user, checkpoint, geofence.
// Attachments are written only after every check passes, and the report with
// all of its attachment rows is committed in one transaction. When anything
// after the first file write fails, the files already written are removed.
package ingest

import (
	"context"
	"errors"
	"math"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/geofence"
	"github.com/JakeFAU/patrol-reporter/internal/metrics"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// Submission is one report as received from a client.
type Submission struct {
	UserID       string
	CheckpointID string
	Body         string
	Latitude     *float64
	Longitude    *float64
	// Accuracy is the reported GPS accuracy in meters; nil means unknown.
	Accuracy *float64
	Uploads  []patrol.Upload
	// LocalKeys reference images held in the client's offline cache.
	LocalKeys []string
}

// Dependencies bundles what the Ingestor needs.
type Dependencies struct {
	Users       patrol.UserStore
	Checkpoints patrol.CheckpointStore
	Reports     patrol.ReportStore
	Files       patrol.AttachmentStore
	Policy      geofence.Policy
	Clock       patrol.Clock
	IDs         patrol.IDGenerator
	Logger      *zap.Logger
}

// Ingestor turns submissions into persisted reports.
type Ingestor struct {
	users       patrol.UserStore
	checkpoints patrol.CheckpointStore
	reports     patrol.ReportStore
	files       patrol.AttachmentStore
	policy      geofence.Policy
	clock       patrol.Clock
	ids         patrol.IDGenerator
	logger      *zap.Logger
}

// New constructs an Ingestor.
func New(deps Dependencies) (*Ingestor, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user store is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Reports == nil:
		return nil, errors.New("report store is required")
	case deps.Files == nil:
		return nil, errors.New("attachment store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		users:       deps.Users,
		checkpoints: deps.Checkpoints,
		reports:     deps.Reports,
		files:       deps.Files,
		policy:      deps.Policy,
		clock:       deps.Clock,
		ids:         deps.IDs,
		logger:      logger.Named("ingest"),
	}, nil
}

// Create validates a submission and stores it with its attachments.
func (i *Ingestor) Create(ctx context.Context, sub Submission) (patrol.Report, error) {
	report, err := i.create(ctx, sub)
	metrics.ObserveSubmission(outcome(err))
	return report, err
}

func (i *Ingestor) create(ctx context.Context, sub Submission) (patrol.Report, error) {
	if err := validate(sub); err != nil {
		return patrol.Report{}, err
	}

	if _, err := i.users.GetUser(ctx, sub.UserID); err != nil {
		return patrol.Report{}, patrol.Internal("get user", err)
	}
	cp, err := i.checkpoints.GetCheckpoint(ctx, sub.CheckpointID)
	if err != nil {
		return patrol.Report{}, patrol.Internal("get checkpoint", err)
	}

	accuracy := 0.0
	if sub.Accuracy != nil {
		accuracy = *sub.Accuracy
	}
	res := i.policy.Check(*sub.Latitude, *sub.Longitude, cp.Latitude, cp.Longitude, accuracy)
	metrics.ObserveGeofence(res.DistanceMeters, res.Pass)
	if !res.Pass {
		i.logger.Info("submission outside geofence",
			zap.String("user_id", sub.UserID),
			zap.String("checkpoint_id", cp.ID),
			zap.Float64("distance_m", res.DistanceMeters),
			zap.Float64("allowed_radius_m", res.AllowedRadius),
		)
		return patrol.Report{}, &patrol.TooFarError{
			DistanceMeters: res.DistanceMeters,
			AccuracyMeters: res.AccuracyMeters,
			AllowedRadius:  res.AllowedRadius,
		}
	}

	now := i.clock.Now()
	reportID, err := i.ids.NewID()
	if err != nil {
		return patrol.Report{}, patrol.Internal("generate report id", err)
	}
	report := patrol.Report{
		ID:           reportID,
		UserID:       sub.UserID,
		CheckpointID: cp.ID,
		Body:         strings.TrimSpace(sub.Body),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var saved []string
	attachments := make([]patrol.Attachment, 0, len(sub.Uploads)+len(sub.LocalKeys))
	for _, up := range sub.Uploads {
		stored, err := i.files.SaveAttachment(ctx, patrol.SaveRequest{
			UserID:       sub.UserID,
			CheckpointID: cp.ID,
			At:           now,
			Upload:       up,
		})
		if err != nil {
			i.discard(saved)
			return patrol.Report{}, patrol.Internal("save attachment", err)
		}
		saved = append(saved, stored)
		a, err := i.attachment(report.ID, now)
		if err != nil {
			i.discard(saved)
			return patrol.Report{}, err
		}
		a.FilePath = stored
		a.FileName = path.Base(stored)
		attachments = append(attachments, a)
	}
	for _, key := range sub.LocalKeys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		a, err := i.attachment(report.ID, now)
		if err != nil {
			i.discard(saved)
			return patrol.Report{}, err
		}
		a.LocalKey = key
		attachments = append(attachments, a)
	}

	if err := i.reports.CreateReport(ctx, report, attachments); err != nil {
		i.discard(saved)
		return patrol.Report{}, patrol.Internal("create report", err)
	}
	metrics.ObserveAttachments(len(saved))
	i.logger.Info("report created",
		zap.String("report_id", report.ID),
		zap.String("user_id", report.UserID),
		zap.String("checkpoint_id", report.CheckpointID),
		zap.Int("attachments", len(attachments)),
		zap.Float64("distance_m", res.DistanceMeters),
	)
	report.Attachments = attachments
	return report, nil
}

func (i *Ingestor) attachment(reportID string, now time.Time) (patrol.Attachment, error) {
	id, err := i.ids.NewID()
	if err != nil {
		return patrol.Attachment{}, patrol.Internal("generate attachment id", err)
	}
	return patrol.Attachment{ID: id, ReportID: reportID, CreatedAt: now}, nil
}

// discard removes files written before a later step failed. It uses a fresh
// context so a canceled request still cleans up.
func (i *Ingestor) discard(paths []string) {
	for _, p := range paths {
		if err := i.files.Remove(context.Background(), p); err != nil {
			i.logger.Warn("failed to remove orphaned attachment", zap.String("path", p), zap.Error(err))
		}
	}
}

func validate(sub Submission) error {
	switch {
	case strings.TrimSpace(sub.UserID) == "":
		return &patrol.FieldError{Field: "user_id"}
	case strings.TrimSpace(sub.CheckpointID) == "":
		return &patrol.FieldError{Field: "checkpoint_id"}
	case strings.TrimSpace(sub.Body) == "":
		return &patrol.FieldError{Field: "report"}
	case sub.Latitude == nil:
		return &patrol.FieldError{Field: "latitude"}
	case sub.Longitude == nil:
		return &patrol.FieldError{Field: "longitude"}
	}
	if v := *sub.Latitude; math.IsNaN(v) || math.IsInf(v, 0) || v < -90 || v > 90 {
		return &patrol.FieldError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if v := *sub.Longitude; math.IsNaN(v) || math.IsInf(v, 0) || v < -180 || v > 180 {
		return &patrol.FieldError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, patrol.ErrMissingField):
		return "invalid"
	case errors.Is(err, patrol.ErrNotFound):
		return "not_found"
	case errors.Is(err, patrol.ErrForbidden):
		return "too_far"
	default:
		return "error"
	}
}
