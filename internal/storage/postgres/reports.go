package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

const (
	reportColumns     = `id, user_id, checkpoint_id, body, created_at, updated_at, archive_url, archive_object_id`
	attachmentColumns = `id, report_id, file_path, local_key, file_name, created_at, purged_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateReport inserts the report and all attachments in one transaction.
func (s *Store) CreateReport(ctx context.Context, report patrol.Report, attachments []patrol.Attachment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return patrol.Internal("begin report tx", err)
	}
	defer rollback(ctx, tx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reports (id, user_id, checkpoint_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		report.ID, report.UserID, report.CheckpointID, report.Body, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return classify("insert report", "report", err)
	}
	for _, a := range attachments {
		_, err = tx.Exec(ctx, `
			INSERT INTO report_attachments (id, report_id, file_path, local_key, file_name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, report.ID, optional(a.FilePath), optional(a.LocalKey), a.FileName, a.CreatedAt,
		)
		if err != nil {
			return classify("insert attachment", "attachment", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return patrol.Internal("commit report tx", err)
	}
	return nil
}

// GetReport fetches one report with its attachments.
func (s *Store) GetReport(ctx context.Context, id string) (patrol.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return patrol.Report{}, &patrol.NotFoundError{Entity: "report", ID: id}
	}
	if err != nil {
		return patrol.Report{}, patrol.Internal("get report", err)
	}
	attachments, err := s.ListAttachments(ctx, []string{id})
	if err != nil {
		return patrol.Report{}, err
	}
	report.Attachments = attachments
	return report, nil
}

// ListReports returns reports created in [start, end] ascending by creation time.
func (s *Store) ListReports(
	ctx context.Context,
	start, end time.Time,
	filter patrol.ReportFilter,
) ([]patrol.Report, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE created_at BETWEEN $1 AND $2
			AND ($3::text IS NULL OR user_id = $3)
			AND ($4::text IS NULL OR checkpoint_id = $4)
			AND (NOT $5::bool OR archive_url IS NOT NULL)
		ORDER BY created_at ASC, id ASC`,
		start, end, optional(filter.UserID), optional(filter.CheckpointID), filter.ArchivedOnly,
	)
	if err != nil {
		return nil, patrol.Internal("list reports", err)
	}
	defer rows.Close()
	var out []patrol.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, patrol.Internal("scan report", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, patrol.Internal("list reports", err)
	}
	return out, nil
}

// ListAttachments fetches the attachments of all given reports in one query.
func (s *Store) ListAttachments(ctx context.Context, reportIDs []string) ([]patrol.Attachment, error) {
	if len(reportIDs) == 0 {
		return nil, nil
	}
	return s.queryAttachments(ctx, s.pool, `
		SELECT `+attachmentColumns+`
		FROM report_attachments
		WHERE report_id = ANY($1)
		ORDER BY created_at ASC, id ASC`, reportIDs)
}

// SetArchive stamps ref on every listed report in one statement.
func (s *Store) SetArchive(
	ctx context.Context,
	reportIDs []string,
	ref patrol.ArchiveRef,
	at time.Time,
) (int64, error) {
	if !ref.Valid() {
		return 0, fmt.Errorf("archive reference requires url and object id")
	}
	if len(reportIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reports
		SET archive_url = $1, archive_object_id = $2, updated_at = $3
		WHERE id = ANY($4)`,
		ref.URL, ref.ObjectID, at, reportIDs,
	)
	if err != nil {
		return 0, patrol.Internal("set archive", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAttachments removes attachment rows.
func (s *Store) DeleteAttachments(ctx context.Context, attachmentIDs []string) (int64, error) {
	if len(attachmentIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM report_attachments WHERE id = ANY($1)`, attachmentIDs)
	if err != nil {
		return 0, patrol.Internal("delete attachments", err)
	}
	return tag.RowsAffected(), nil
}

// MarkAttachmentsPurged stamps purged_at on rows not yet purged.
func (s *Store) MarkAttachmentsPurged(ctx context.Context, attachmentIDs []string, at time.Time) (int64, error) {
	if len(attachmentIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE report_attachments
		SET purged_at = $1
		WHERE id = ANY($2) AND purged_at IS NULL`,
		at, attachmentIDs,
	)
	if err != nil {
		return 0, patrol.Internal("mark attachments purged", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteReport removes a report; attachment rows cascade and are returned.
func (s *Store) DeleteReport(ctx context.Context, id string) ([]patrol.Attachment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, patrol.Internal("begin delete tx", err)
	}
	defer rollback(ctx, tx)

	attachments, err := s.queryAttachments(ctx, tx, `
		SELECT `+attachmentColumns+`
		FROM report_attachments
		WHERE report_id = $1
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return nil, patrol.Internal("delete report", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &patrol.NotFoundError{Entity: "report", ID: id}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, patrol.Internal("commit delete tx", err)
	}
	return attachments, nil
}

type querier interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

func (s *Store) queryAttachments(ctx context.Context, q querier, query string, args ...any) ([]patrol.Attachment, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, patrol.Internal("list attachments", err)
	}
	defer rows.Close()
	var out []patrol.Attachment
	for rows.Next() {
		var (
			a        patrol.Attachment
			filePath *string
			localKey *string
			purgedAt *time.Time
		)
		if err := rows.Scan(&a.ID, &a.ReportID, &filePath, &localKey, &a.FileName, &a.CreatedAt, &purgedAt); err != nil {
			return nil, patrol.Internal("scan attachment", err)
		}
		a.FilePath = deref(filePath)
		a.LocalKey = deref(localKey)
		a.PurgedAt = purgedAt
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, patrol.Internal("list attachments", err)
	}
	return out, nil
}

func scanReport(row rowScanner) (patrol.Report, error) {
	var (
		r          patrol.Report
		archiveURL *string
		archiveID  *string
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.CheckpointID,
		&r.Body,
		&r.CreatedAt,
		&r.UpdatedAt,
		&archiveURL,
		&archiveID,
	); err != nil {
		return patrol.Report{}, err
	}
	if archiveURL != nil && archiveID != nil {
		r.Archive = &patrol.ArchiveRef{URL: *archiveURL, ObjectID: *archiveID}
	}
	return r, nil
}
