package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// AuditPort receives audit events after a write has committed. Emit must not
// block the caller.
type AuditPort interface {
	Emit(entry shared.AuditLog)
}

type noopAudit struct{}

func (noopAudit) Emit(shared.AuditLog) {}

// Service orchestrates permission resolution, caching and administration.
type Service struct {
	store    AdminStore
	resolver *Resolver
	cache    *PermissionCache
	audit    AuditPort
	logger   *slog.Logger

	group singleflight.Group

	epochMu sync.Mutex
	epochs  [epochStripes]uint64
}

// Invalidation epochs are striped by user id so the table stays fixed in
// size. Two users sharing a stripe only cost each other a skipped cache fill.
const epochStripes = 1024

// NewService wires the permission service.
func NewService(store AdminStore, cache *PermissionCache, audit AuditPort, logger *slog.Logger) *Service {
	if audit == nil {
		audit = noopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: NewResolver(store),
		cache:    cache,
		audit:    audit,
		logger:   logger,
	}
}

// Cache exposes the permission cache so derived caches can register.
func (s *Service) Cache() *PermissionCache {
	return s.cache
}

// Effective returns the cached entry for userID, resolving and caching it on
// a miss. Concurrent misses for the same user share one resolution.
func (s *Service) Effective(ctx context.Context, userID int64) (CacheEntry, error) {
	if userID <= 0 {
		return CacheEntry{}, shared.ErrUnauthenticated
	}
	entry, err := s.cache.Get(ctx, userID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return CacheEntry{}, err
	}

	epoch := s.epoch(userID)
	key := strconv.FormatInt(userID, 10) + ":" + strconv.FormatUint(epoch, 10)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		return s.resolveAndStore(context.WithoutCancel(ctx), userID, epoch)
	})
	select {
	case <-ctx.Done():
		return CacheEntry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CacheEntry{}, res.Err
		}
		return res.Val.(CacheEntry), nil
	}
}

func (s *Service) resolveAndStore(ctx context.Context, userID int64, epoch uint64) (CacheEntry, error) {
	set, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return CacheEntry{}, err
	}
	if s.epoch(userID) != epoch {
		// Invalidated while resolving; serve the result but do not cache it.
		return CacheEntry{UserID: userID, Permissions: set, Hash: set.Hash()}, nil
	}
	entry, err := s.cache.Put(ctx, userID, set)
	if err != nil {
		s.logger.Warn("rbac cache put", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	if s.epoch(userID) != epoch {
		// An invalidation landed while the entry was being written.
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Error("rbac invalidate stale fill", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return entry, nil
}

// Fresh resolves the effective set without consulting or filling the cache.
func (s *Service) Fresh(ctx context.Context, userID int64) (PermissionSet, error) {
	return s.resolver.Resolve(ctx, userID)
}

// Has reports whether userID holds key.
func (s *Service) Has(ctx context.Context, userID int64, key string) (bool, error) {
	return s.HasAny(ctx, userID, key)
}

// HasAny reports whether userID holds at least one of keys.
func (s *Service) HasAny(ctx context.Context, userID int64, keys ...string) (bool, error) {
	entry, err := s.Effective(ctx, userID)
	if err != nil {
		return false, err
	}
	return entry.Permissions.HasAny(keys...), nil
}

// HasAll reports whether userID holds every one of keys.
func (s *Service) HasAll(ctx context.Context, userID int64, keys ...string) (bool, error) {
	entry, err := s.Effective(ctx, userID)
	if err != nil {
		return false, err
	}
	return entry.Permissions.HasAll(keys...), nil
}

// Invalidate drops the cached permissions of userID and everything derived
// from them.
func (s *Service) Invalidate(ctx context.Context, userID int64) error {
	s.bump(userID)
	return s.cache.Invalidate(ctx, userID)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// ReplaceRolePermissions replaces the grants of a role and invalidates every
// member of that role.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleID int64, keys []string) error {
	if roleID <= 0 {
		return fmt.Errorf("rbac: role id required: %w", httpx.ErrValidation)
	}
	keys = NormalizeKeys(keys)
	old, err := s.store.ReplaceRolePermissions(ctx, roleID, keys)
	if err != nil {
		return err
	}
	members, err := s.store.UsersWithRole(ctx, roleID)
	if err != nil {
		s.logger.Error("rbac list role members", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	for _, userID := range members {
		s.invalidateAfterWrite(ctx, userID)
	}
	s.emit(ctx, shared.AuditActionUpdate, "role_permissions", roleID, old, keys)
	return nil
}

// ReplaceUserPermissions replaces the direct grants of a user.
func (s *Service) ReplaceUserPermissions(ctx context.Context, userID int64, keys []string) error {
	if userID <= 0 {
		return fmt.Errorf("rbac: user id required: %w", httpx.ErrValidation)
	}
	keys = NormalizeKeys(keys)
	old, err := s.store.ReplaceUserPermissions(ctx, userID, keys)
	if err != nil {
		return err
	}
	s.invalidateAfterWrite(ctx, userID)
	s.emit(ctx, shared.AuditActionUpdate, "user_permissions", userID, old, keys)
	return nil
}

// ReplaceUserOverrides replaces every override of a user.
func (s *Service) ReplaceUserOverrides(ctx context.Context, userID int64, overrides []Override) error {
	if userID <= 0 {
		return fmt.Errorf("rbac: user id required: %w", httpx.ErrValidation)
	}
	normalized, err := NormalizeOverrides(overrides)
	if err != nil {
		return err
	}
	old, err := s.store.ReplaceUserOverrides(ctx, userID, normalized)
	if err != nil {
		return err
	}
	s.invalidateAfterWrite(ctx, userID)
	s.emit(ctx, shared.AuditActionUpdate, "user_permission_overrides", userID, old, normalized)
	return nil
}

// AssignUserRole moves a user to roleID.
func (s *Service) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return fmt.Errorf("rbac: user and role ids required: %w", httpx.ErrValidation)
	}
	previous, err := s.store.AssignUserRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	s.invalidateAfterWrite(ctx, userID)
	s.emit(ctx, shared.AuditActionUpdate, "users.role_id", userID,
		map[string]int64{"role_id": previous}, map[string]int64{"role_id": roleID})
	return nil
}

// invalidateAfterWrite never fails the committed write. A failed delete
// leaves at most one TTL of staleness.
func (s *Service) invalidateAfterWrite(ctx context.Context, userID int64) {
	if err := s.Invalidate(ctx, userID); err != nil {
		s.logger.Error("rbac invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, action, table string, recordID int64, oldValue, newValue any) {
	entry := shared.AuditLog{
		Action:   action,
		Table:    table,
		RecordID: strconv.FormatInt(recordID, 10),
		OldValue: oldValue,
		NewValue: newValue,
	}
	if id, ok := shared.IdentityFromContext(ctx); ok {
		entry.ActorID = id.UserID
		entry.IP = id.IP
		entry.UserAgent = id.UserAgent
	}
	s.audit.Emit(entry)
}

func (s *Service) epoch(userID int64) uint64 {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.epochs[stripe(userID)]
}

func (s *Service) bump(userID int64) {
	s.epochMu.Lock()
	s.epochs[stripe(userID)]++
	s.epochMu.Unlock()
}

func stripe(userID int64) uint64 {
	return uint64(userID) % epochStripes
}
