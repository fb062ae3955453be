package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/odyssey-erp/accesscore/internal/platform/cache"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// DefaultPermissionTTL bounds how long a resolved set may be served.
const DefaultPermissionTTL = 15 * time.Minute

// ErrCacheMiss reports that no live entry exists for the user.
var ErrCacheMiss = errors.New("rbac: permission cache miss")

// CacheEntry is the cached resolution for one user.
type CacheEntry struct {
	UserID      int64         `json:"user_id"`
	Permissions PermissionSet `json:"permissions"`
	Hash        string        `json:"permissions_hash"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Dependent is a cache derived from a user's permissions. It is dropped
// whenever the user's permission entry is invalidated.
type Dependent interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// PermissionCache memoizes effective permission sets per user.
type PermissionCache struct {
	store    cache.Store
	ttl      time.Duration
	now      shared.Clock
	observer cache.Observer

	mu         sync.RWMutex
	dependents []Dependent
}

// NewPermissionCache constructs a cache over store. A non-positive ttl falls
// back to DefaultPermissionTTL and a nil clock to the system clock.
func NewPermissionCache(store cache.Store, ttl time.Duration, clock shared.Clock) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionCache{store: store, ttl: ttl, now: clock.OrSystem()}
}

// SetObserver attaches a hit/miss observer.
func (c *PermissionCache) SetObserver(o cache.Observer) {
	c.observer = o
}

// Register adds a cache that must be invalidated together with this one.
func (c *PermissionCache) Register(d Dependent) {
	if d == nil {
		return
	}
	c.mu.Lock()
	c.dependents = append(c.dependents, d)
	c.mu.Unlock()
}

// Get returns the live entry for userID, ErrCacheMiss when there is none, or
// the backend error. A backend failure is never reported as a miss.
func (c *PermissionCache) Get(ctx context.Context, userID int64) (CacheEntry, error) {
	payload, err := c.store.Get(ctx, permissionKey(userID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			cache.ObserveLookup(c.observer, "permissions", false)
			return CacheEntry{}, ErrCacheMiss
		}
		return CacheEntry{}, fmt.Errorf("rbac: permission cache get: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil || entry.UserID != userID {
		cache.ObserveLookup(c.observer, "permissions", false)
		return CacheEntry{}, ErrCacheMiss
	}
	if !c.now().Before(entry.ExpiresAt) {
		cache.ObserveLookup(c.observer, "permissions", false)
		return CacheEntry{}, ErrCacheMiss
	}
	if entry.Permissions == nil {
		entry.Permissions = PermissionSet{}
	}
	cache.ObserveLookup(c.observer, "permissions", true)
	return entry, nil
}

// Put stores set for userID with expires_at = now + ttl.
func (c *PermissionCache) Put(ctx context.Context, userID int64, set PermissionSet) (CacheEntry, error) {
	if set == nil {
		set = PermissionSet{}
	}
	entry := CacheEntry{
		UserID:      userID,
		Permissions: set,
		Hash:        set.Hash(),
		ExpiresAt:   c.now().Add(c.ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("rbac: encode permission entry: %w", err)
	}
	if err := c.store.Set(ctx, permissionKey(userID), payload, c.ttl); err != nil {
		return entry, fmt.Errorf("rbac: permission cache put: %w", err)
	}
	return entry, nil
}

// Invalidate deletes the user's entry and every dependent entry. Calling it
// repeatedly has the same effect as calling it once.
func (c *PermissionCache) Invalidate(ctx context.Context, userID int64) error {
	var errs []error
	if err := c.store.Delete(ctx, permissionKey(userID)); err != nil {
		errs = append(errs, fmt.Errorf("rbac: permission cache invalidate: %w", err))
	}
	c.mu.RLock()
	dependents := append([]Dependent(nil), c.dependents...)
	c.mu.RUnlock()
	for _, d := range dependents {
		if err := d.InvalidateUser(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func permissionKey(userID int64) string {
	return "perm:user:" + strconv.FormatInt(userID, 10)
}
