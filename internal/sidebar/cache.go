package sidebar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/accesscore/internal/platform/cache"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// DefaultTTL is the lifetime of a cached menu, independent of the
// permission cache TTL.
const DefaultTTL = 30 * time.Minute

// ErrMiss reports that no menu is cached for the requested key.
var ErrMiss = errors.New("sidebar: cache miss")

// Entry is a cached menu. It is only valid for the exact role and
// permissions hash it was built from.
type Entry struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	Hash      string    `json:"permissions_hash"`
	Items     []Node    `json:"menu_tree"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache stores built menus keyed by (user, role, permissions hash). One slot
// is kept per user so invalidation never has to enumerate keys.
type Cache struct {
	store    cache.Store
	ttl      time.Duration
	now      shared.Clock
	observer cache.Observer
}

// NewCache constructs a menu cache over store.
func NewCache(store cache.Store, ttl time.Duration, clock shared.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: clock.OrSystem()}
}

// SetObserver attaches a hit/miss observer.
func (c *Cache) SetObserver(o cache.Observer) {
	c.observer = o
}

// Get returns the cached menu when it was built for roleID and hash and has
// not expired. Backend errors are returned as is.
func (c *Cache) Get(ctx context.Context, userID, roleID int64, hash string) (Entry, error) {
	payload, err := c.store.Get(ctx, menuKey(userID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			cache.ObserveLookup(c.observer, "sidebar", false)
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("sidebar: cache get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil ||
		entry.UserID != userID || entry.RoleID != roleID || entry.Hash != hash ||
		!c.now().Before(entry.ExpiresAt) {
		cache.ObserveLookup(c.observer, "sidebar", false)
		return Entry{}, ErrMiss
	}
	if entry.Items == nil {
		entry.Items = []Node{}
	}
	cache.ObserveLookup(c.observer, "sidebar", true)
	return entry, nil
}

// Put replaces the user's cached menu.
func (c *Cache) Put(ctx context.Context, userID, roleID int64, hash string, items []Node) (Entry, error) {
	entry := Entry{UserID: userID, RoleID: roleID, Hash: hash, Items: items, ExpiresAt: c.now().Add(c.ttl)}
	payload, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("sidebar: encode menu: %w", err)
	}
	if err := c.store.Set(ctx, menuKey(userID), payload, c.ttl); err != nil {
		return entry, fmt.Errorf("sidebar: cache put: %w", err)
	}
	return entry, nil
}

// InvalidateUser drops the user's menu. It is registered with the
// permission cache so both are invalidated together.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if err := c.store.Delete(ctx, menuKey(userID)); err != nil {
		return fmt.Errorf("sidebar: invalidate: %w", err)
	}
	return nil
}

func menuKey(userID int64) string {
	return "sidebar:user:" + strconv.FormatInt(userID, 10)
}
