package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/accesscore/internal/platform/db"
	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
)

// ErrUserNotFound indicates that the user row does not exist.
var ErrUserNotFound = fmt.Errorf("rbac: user not found: %w", httpx.ErrNotFound)

// ErrRoleNotFound indicates that the role row does not exist.
var ErrRoleNotFound = fmt.Errorf("rbac: role not found: %w", httpx.ErrNotFound)

// Store provides read access to grants and overrides.
type Store interface {
	// UserRole returns the user's role (0 when unassigned) and active flag.
	UserRole(ctx context.Context, userID int64) (roleID int64, active bool, err error)
	RoleGrants(ctx context.Context, roleID int64) ([]string, error)
	UserGrants(ctx context.Context, userID int64) ([]string, error)
	Overrides(ctx context.Context, userID int64) ([]Override, error)
}

// AdminStore adds the replace-all writes used by administration endpoints.
// Every write returns the previous state for auditing.
type AdminStore interface {
	Store
	ListPermissions(ctx context.Context) ([]Permission, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, keys []string) ([]string, error)
	ReplaceUserPermissions(ctx context.Context, userID int64, keys []string) ([]string, error)
	ReplaceUserOverrides(ctx context.Context, userID int64, overrides []Override) ([]Override, error)
	AssignUserRole(ctx context.Context, userID, roleID int64) (int64, error)
}

// PGStore implements AdminStore using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore backed by the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRole fetches the role assignment of a user.
func (s *PGStore) UserRole(ctx context.Context, userID int64) (int64, bool, error) {
	var roleID *int64
	var active bool
	err := s.pool.QueryRow(ctx, `SELECT role_id, is_active FROM users WHERE id = $1`, userID).Scan(&roleID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrUserNotFound
		}
		return 0, false, fmt.Errorf("rbac: user role: %w", err)
	}
	if roleID == nil {
		return 0, active, nil
	}
	return *roleID, active, nil
}

// RoleGrants lists permission keys granted to a role.
func (s *PGStore) RoleGrants(ctx context.Context, roleID int64) ([]string, error) {
	return s.roleGrants(ctx, s.pool, roleID)
}

func (s *PGStore) roleGrants(ctx context.Context, q queryer, roleID int64) ([]string, error) {
	return collectKeys(ctx, q, `SELECT p.perm_key FROM role_permissions rp JOIN permissions p ON p.id = rp.perm_id WHERE rp.role_id = $1 ORDER BY p.perm_key`, roleID)
}

// UserGrants lists permission keys granted directly to a user.
func (s *PGStore) UserGrants(ctx context.Context, userID int64) ([]string, error) {
	return s.userGrants(ctx, s.pool, userID)
}

func (s *PGStore) userGrants(ctx context.Context, q queryer, userID int64) ([]string, error) {
	return collectKeys(ctx, q, `SELECT p.perm_key FROM user_permissions up JOIN permissions p ON p.id = up.perm_id WHERE up.user_id = $1 ORDER BY p.perm_key`, userID)
}

// Overrides lists the allow/deny overrides of a user.
func (s *PGStore) Overrides(ctx context.Context, userID int64) ([]Override, error) {
	return s.overrides(ctx, s.pool, userID)
}

func (s *PGStore) overrides(ctx context.Context, q queryer, userID int64) ([]Override, error) {
	rows, err := q.Query(ctx, `SELECT p.perm_key, o.effect FROM user_permission_overrides o JOIN permissions p ON p.id = o.perm_id WHERE o.user_id = $1 ORDER BY p.perm_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: overrides: %w", err)
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		var effect string
		if err := rows.Scan(&o.Key, &effect); err != nil {
			return nil, err
		}
		o.Effect = Effect(effect)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListPermissions returns the permission catalog ordered by key.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, perm_key, module FROM permissions ORDER BY perm_key`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Module); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UsersWithRole lists users currently assigned to roleID.
func (s *PGStore) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE role_id = $1 ORDER BY id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: users with role: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceRolePermissions swaps the full grant list of a role.
func (s *PGStore) ReplaceRolePermissions(ctx context.Context, roleID int64, keys []string) ([]string, error) {
	var old []string
	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRoleNotFound
		}
		ids, err := permissionIDs(ctx, tx, keys)
		if err != nil {
			return err
		}
		if old, err = s.roleGrants(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if len(ids) > 0 {
			_, err = tx.Exec(ctx, `INSERT INTO role_permissions (role_id, perm_id) SELECT $1, unnest($2::bigint[])`, roleID, ids)
		}
		return err
	})
	return old, err
}

// ReplaceUserPermissions swaps the full direct grant list of a user.
func (s *PGStore) ReplaceUserPermissions(ctx context.Context, userID int64, keys []string) ([]string, error) {
	var old []string
	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		ids, err := permissionIDs(ctx, tx, keys)
		if err != nil {
			return err
		}
		if old, err = s.userGrants(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(ids) > 0 {
			_, err = tx.Exec(ctx, `INSERT INTO user_permissions (user_id, perm_id) SELECT $1, unnest($2::bigint[])`, userID, ids)
		}
		return err
	})
	return old, err
}

// ReplaceUserOverrides swaps the full override list of a user. Rows are never
// merged, which keeps one override per (user, permission).
func (s *PGStore) ReplaceUserOverrides(ctx context.Context, userID int64, overrides []Override) ([]Override, error) {
	var old []Override
	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		keys := make([]string, len(overrides))
		effects := make([]string, len(overrides))
		for i, o := range overrides {
			keys[i] = o.Key
			effects[i] = string(o.Effect)
		}
		ids, err := permissionIDs(ctx, tx, keys)
		if err != nil {
			return err
		}
		if old, err = s.overrides(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permission_overrides WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(ids) > 0 {
			_, err = tx.Exec(ctx, `INSERT INTO user_permission_overrides (user_id, perm_id, effect) SELECT $1, u.perm_id, u.effect FROM unnest($2::bigint[], $3::text[]) AS u(perm_id, effect)`, userID, ids, effects)
		}
		return err
	})
	return old, err
}

// AssignUserRole replaces the user's role and returns the previous one.
func (s *PGStore) AssignUserRole(ctx context.Context, userID, roleID int64) (int64, error) {
	var previous int64
	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var old *int64
		if err := tx.QueryRow(ctx, `SELECT role_id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&old); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		if old != nil {
			previous = *old
		}
		tag, err := tx.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1 AND EXISTS (SELECT 1 FROM roles WHERE id = $2)`, userID, roleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
	return previous, err
}

func lockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// permissionIDs resolves keys to ids; any unknown key is a validation error.
func permissionIDs(ctx context.Context, q queryer, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `SELECT k.key, p.id FROM unnest($1::text[]) WITH ORDINALITY AS k(key, ord) LEFT JOIN permissions p ON p.perm_key = k.key ORDER BY k.ord`, keys)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve permission ids: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0, len(keys))
	var unknown []string
	for rows.Next() {
		var key string
		var id *int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		if id == nil {
			unknown = append(unknown, key)
			continue
		}
		ids = append(ids, *id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("rbac: unknown permissions %v: %w", unknown, httpx.ErrValidation)
	}
	return ids, nil
}

func collectKeys(ctx context.Context, q queryer, sql string, arg int64) ([]string, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("rbac: query grants: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ AdminStore = (*PGStore)(nil)
