package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accesscore/internal/platform/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f failingStore) Delete(context.Context, ...string) error { return f.err }

type recordingDependent struct {
	mu    sync.Mutex
	calls []int64
}

func (d *recordingDependent) InvalidateUser(_ context.Context, userID int64) error {
	d.mu.Lock()
	d.calls = append(d.calls, userID)
	d.mu.Unlock()
	return nil
}

func newRedisBackedCache(t *testing.T, clock *fakeClock) (*PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(cache.NewRedisStore(client, "test:"), 15*time.Minute, clock.Now), mr
}

func TestPermissionCachePutGet(t *testing.T) {
	clock := newFakeClock()
	c, mr := newRedisBackedCache(t, clock)
	ctx := context.Background()

	_, err := c.Get(ctx, 42)
	require.ErrorIs(t, err, ErrCacheMiss)

	set := NewPermissionSet("sales.view", "inventory.view")
	put, err := c.Put(ctx, 42, set)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(15*time.Minute), put.ExpiresAt)
	require.True(t, mr.Exists("test:perm:user:42"))

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, set.Sorted(), got.Permissions.Sorted())
	require.Equal(t, set.Hash(), got.Hash)
}

func TestPermissionCacheExpiresByInjectedClock(t *testing.T) {
	clock := newFakeClock()
	c := NewPermissionCache(cache.NewMemoryStore(16, time.Hour), 15*time.Minute, clock.Now)
	ctx := context.Background()

	_, err := c.Put(ctx, 1, NewPermissionSet("sales.view"))
	require.NoError(t, err)

	clock.Advance(14*time.Minute + 59*time.Second)
	_, err = c.Get(ctx, 1)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.Get(ctx, 1)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestPermissionCacheInvalidateIsIdempotentAndCascades(t *testing.T) {
	clock := newFakeClock()
	c, _ := newRedisBackedCache(t, clock)
	dep := &recordingDependent{}
	c.Register(dep)
	ctx := context.Background()

	_, err := c.Put(ctx, 5, NewPermissionSet("sales.view"))
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 5))
	_, err = c.Get(ctx, 5)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Invalidate(ctx, 5))
	_, err = c.Get(ctx, 5)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.Equal(t, []int64{5, 5}, dep.calls)
}

func TestPermissionCacheBackendErrorIsNotMiss(t *testing.T) {
	boom := errors.New("redis down")
	c := NewPermissionCache(failingStore{err: boom}, time.Minute, nil)

	_, err := c.Get(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrCacheMiss)

	err = c.Invalidate(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}

func TestPermissionCacheCorruptPayloadIsMiss(t *testing.T) {
	store := cache.NewMemoryStore(4, time.Hour)
	require.NoError(t, store.Set(context.Background(), "perm:user:3", []byte("{not json"), time.Minute))
	c := NewPermissionCache(store, time.Minute, nil)

	_, err := c.Get(context.Background(), 3)
	require.ErrorIs(t, err, ErrCacheMiss)
}
