package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, role_id, is_active, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		var (
			user   User
			roleID pgtype.Int8
		)
		if err := row.Scan(&user.ID, &user.Email, &user.Name, &roleID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return User{}, err
		}
		if roleID.Valid {
			user.RoleID = roleID.Int64
		}
		return user, nil
	})
}

// SetActive updates the flag and returns the previous value.
func (r *Repository) SetActive(ctx context.Context, userID int64, active bool) (bool, error) {
	var previous bool
	err := r.pool.QueryRow(ctx, `WITH prev AS (SELECT id, is_active FROM users WHERE id = $1 FOR UPDATE)
UPDATE users u SET is_active = $2, updated_at = NOW()
FROM prev WHERE u.id = prev.id
RETURNING prev.is_active`, userID, active).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, shared.ErrNotFound
	}
	return previous, err
}
