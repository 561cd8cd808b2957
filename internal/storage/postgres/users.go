package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// GetUser fetches one user.
func (s *Store) GetUser(ctx context.Context, id string) (patrol.User, error) {
	var u patrol.User
	err := s.pool.QueryRow(ctx, `SELECT id, first_name, last_name FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return patrol.User{}, &patrol.NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return patrol.User{}, patrol.Internal("get user", err)
	}
	return u, nil
}

// GetUsers resolves many users in one query.
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]patrol.User, error) {
	out := make(map[string]patrol.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, first_name, last_name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, patrol.Internal("list users", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u patrol.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName); err != nil {
			return nil, patrol.Internal("scan user", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, patrol.Internal("list users", err)
	}
	return out, nil
}
