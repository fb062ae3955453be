package sidebar

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/accesscore/internal/rbac"
)

// PermissionSource yields the cached effective permissions of a user.
type PermissionSource interface {
	Effective(ctx context.Context, userID int64) (rbac.CacheEntry, error)
}

// RoleSource reports a user's current role.
type RoleSource interface {
	UserRole(ctx context.Context, userID int64) (roleID int64, active bool, err error)
}

// Menu is the response of Service.Menu.
type Menu struct {
	Hash  string `json:"permissions_hash"`
	Items []Node `json:"items"`
}

// Service serves per-user menus, rebuilding them only when the user's role
// or permissions hash changed.
type Service struct {
	perms  PermissionSource
	roles  RoleSource
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs the sidebar service.
func NewService(perms PermissionSource, roles RoleSource, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{perms: perms, roles: roles, cache: cache, logger: logger}
}

// Menu returns the navigation for userID.
func (s *Service) Menu(ctx context.Context, userID int64) (Menu, error) {
	entry, err := s.perms.Effective(ctx, userID)
	if err != nil {
		return Menu{}, err
	}
	roleID, _, err := s.roles.UserRole(ctx, userID)
	if err != nil && !errors.Is(err, rbac.ErrUserNotFound) {
		return Menu{}, err
	}

	cached, err := s.cache.Get(ctx, userID, roleID, entry.Hash)
	switch {
	case err == nil:
		return Menu{Hash: cached.Hash, Items: cached.Items}, nil
	case !errors.Is(err, ErrMiss):
		// The menu is derived data; rebuild rather than fail the request.
		s.logger.Warn("sidebar cache get", slog.Int64("user_id", userID), slog.Any("error", err))
	}

	items := Build(entry.Permissions)
	if _, err := s.cache.Put(ctx, userID, roleID, entry.Hash, items); err != nil {
		s.logger.Warn("sidebar cache put", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return Menu{Hash: entry.Hash, Items: items}, nil
}
