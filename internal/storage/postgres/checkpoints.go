package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

const checkpointColumns = `id, name, latitude, longitude, barcode, created_at`

// CreateCheckpoint inserts a checkpoint; a duplicate name is a conflict.
func (s *Store) CreateCheckpoint(ctx context.Context, cp patrol.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (id, name, latitude, longitude, barcode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		cp.ID,
		patrol.NormalizeCheckpointName(cp.Name),
		cp.Latitude,
		cp.Longitude,
		cp.BarcodeValue(),
		cp.CreatedAt,
	)
	return classify("create checkpoint", "checkpoint", err)
}

// GetCheckpoint fetches one checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (patrol.Checkpoint, error) {
	var cp patrol.Checkpoint
	err := s.pool.QueryRow(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = $1`, id).
		Scan(&cp.ID, &cp.Name, &cp.Latitude, &cp.Longitude, &cp.Barcode, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return patrol.Checkpoint{}, &patrol.NotFoundError{Entity: "checkpoint", ID: id}
	}
	if err != nil {
		return patrol.Checkpoint{}, patrol.Internal("get checkpoint", err)
	}
	return cp, nil
}

// GetCheckpoints resolves many checkpoints in one query.
func (s *Store) GetCheckpoints(ctx context.Context, ids []string) (map[string]patrol.Checkpoint, error) {
	out := make(map[string]patrol.Checkpoint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryCheckpoints(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, cp := range list {
		out[cp.ID] = cp
	}
	return out, nil
}

// ListCheckpoints returns every checkpoint ordered by name.
func (s *Store) ListCheckpoints(ctx context.Context) ([]patrol.Checkpoint, error) {
	return s.queryCheckpoints(ctx, `SELECT `+checkpointColumns+` FROM checkpoints ORDER BY name`)
}

// DeleteCheckpoint removes a checkpoint unless reports reference it.
func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	var refs int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE checkpoint_id = $1`, id).Scan(&refs); err != nil {
		return patrol.Internal("count checkpoint reports", err)
	}
	if refs > 0 {
		return &patrol.ConflictError{Entity: "checkpoint", Reason: fmt.Sprintf("referenced by %d reports", refs)}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	if err != nil {
		return classify("delete checkpoint", "checkpoint", err)
	}
	if tag.RowsAffected() == 0 {
		return &patrol.NotFoundError{Entity: "checkpoint", ID: id}
	}
	return nil
}

func (s *Store) queryCheckpoints(ctx context.Context, query string, args ...any) ([]patrol.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, patrol.Internal("list checkpoints", err)
	}
	defer rows.Close()
	var out []patrol.Checkpoint
	for rows.Next() {
		var cp patrol.Checkpoint
		if err := rows.Scan(&cp.ID, &cp.Name, &cp.Latitude, &cp.Longitude, &cp.Barcode, &cp.CreatedAt); err != nil {
			return nil, patrol.Internal("scan checkpoint", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, patrol.Internal("list checkpoints", err)
	}
	return out, nil
}
