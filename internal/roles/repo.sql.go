package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
)

// ErrDuplicateRole is returned when a role name is already taken.
var ErrDuplicateRole = fmt.Errorf("role name already exists: %w", httpx.ErrDuplicate)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles with grant and member counts.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.description,
       (SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id)::int,
       (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id)::int,
       r.created_at
FROM roles r ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		var role Role
		err := row.Scan(&role.ID, &role.Name, &role.Description, &role.PermissionCount, &role.UserCount, &role.CreatedAt)
		return role, err
	})
}

// CreateRole inserts a new role without grants.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id, name, description, created_at`,
		name, description).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, ErrDuplicateRole
		}
		return Role{}, err
	}
	return role, nil
}
