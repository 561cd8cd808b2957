package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/patrol-reporter/internal/store"
)

const jobRunColumns = `id, job, started_at, finished_at, status, error_message, detail`

// StartRun inserts a job run in running status.
func (s *Store) StartRun(ctx context.Context, run store.JobRun) error {
	status := run.Status
	if status == "" {
		status = store.RunRunning
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job, started_at, status, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Job, run.StartedAt, string(status), run.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *Store) CompleteRun(
	ctx context.Context,
	id string,
	finishedAt time.Time,
	status store.JobRunStatus,
	errMsg *string,
	detail string,
) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3, detail = $4
		WHERE id = $5`,
		finishedAt, string(status), errMsg, detail, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single job run by its ID.
func (s *Store) GetRun(ctx context.Context, id string) (store.JobRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves job runs newest first with optional job and status filters.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter, limit, offset int) ([]store.JobRun, error) {
	var status *string
	if filter.Status != nil {
		v := string(*filter.Status)
		status = &v
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobRunColumns+`
		FROM job_runs
		WHERE ($1::text IS NULL OR job = $1)
			AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`,
		filter.Job, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	runs := []store.JobRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (store.JobRun, error) {
	var (
		run    store.JobRun
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.Job,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.Detail,
	); err != nil {
		return store.JobRun{}, err
	}
	run.Status = store.JobRunStatus(status)
	return run, nil
}
