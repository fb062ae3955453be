package sidebar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accesscore/internal/platform/cache"
	"github.com/odyssey-erp/accesscore/internal/rbac"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

type stubPermissions struct {
	mu    sync.Mutex
	sets  map[int64]rbac.PermissionSet
	calls int
	err   error
}

func (s *stubPermissions) Effective(_ context.Context, userID int64) (rbac.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return rbac.CacheEntry{}, s.err
	}
	set := s.sets[userID]
	if set == nil {
		set = rbac.PermissionSet{}
	}
	return rbac.CacheEntry{UserID: userID, Permissions: set, Hash: set.Hash()}, nil
}

type stubRoles map[int64]int64

func (s stubRoles) UserRole(_ context.Context, userID int64) (int64, bool, error) {
	roleID, ok := s[userID]
	if !ok {
		return 0, false, rbac.ErrUserNotFound
	}
	return roleID, true, nil
}

func keys(nodes []Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Key)
		out = append(out, keys(n.Children)...)
	}
	return out
}

func TestBuildKeepsParentsOnlyWithVisibleChildren(t *testing.T) {
	items := Build(rbac.NewPermissionSet(shared.PermSalesOrderView, shared.PermAuditView))
	require.Equal(t, []string{"sales", "sales.orders", "admin", "admin.audit"}, keys(items))

	items = Build(rbac.NewPermissionSet(shared.PermInventoryView))
	require.Equal(t, []string{"inventory"}, keys(items))
	require.Empty(t, items[0].Children)

	require.Empty(t, Build(rbac.PermissionSet{}))
	require.Empty(t, Build(rbac.NewPermissionSet("unknown.view")))
}

func TestBuildIsPure(t *testing.T) {
	set := rbac.NewPermissionSet(shared.PermFinanceView, shared.PermFinanceReportView, shared.PermDashboardView)
	first := Build(set)
	second := Build(set)
	require.Equal(t, first, second)
	require.Len(t, Tree[3].Children, 3, "filtering must not mutate the base tree")
	require.Len(t, Tree[4].Children, 4)
}

func newTestCache(t *testing.T, now func() time.Time) (*Cache, *miniredis.Miniredis, cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, "test:")
	return NewCache(store, 30*time.Minute, now), mr, store
}

func TestCacheKeyedByRoleAndHash(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c, mr, _ := newTestCache(t, func() time.Time { return now })
	ctx := context.Background()
	items := Build(rbac.NewPermissionSet(shared.PermDashboardView))

	_, err := c.Put(ctx, 7, 3, "hash-a", items)
	require.NoError(t, err)
	require.True(t, mr.Exists("test:sidebar:user:7"))

	got, err := c.Get(ctx, 7, 3, "hash-a")
	require.NoError(t, err)
	require.Equal(t, []string{"dashboard"}, keys(got.Items))

	_, err = c.Get(ctx, 7, 4, "hash-a")
	require.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, 7, 3, "hash-b")
	require.ErrorIs(t, err, ErrMiss)

	now = now.Add(30 * time.Minute)
	_, err = c.Get(ctx, 7, 3, "hash-a")
	require.ErrorIs(t, err, ErrMiss)
}

func TestPermissionInvalidationCascades(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	menus, mr, store := newTestCache(t, clock)
	perms := rbac.NewPermissionCache(store, 15*time.Minute, clock)
	perms.Register(menus)
	ctx := context.Background()

	_, err := perms.Put(ctx, 9, rbac.NewPermissionSet(shared.PermDashboardView))
	require.NoError(t, err)
	_, err = menus.Put(ctx, 9, 1, "h", nil)
	require.NoError(t, err)

	require.NoError(t, perms.Invalidate(ctx, 9))
	require.False(t, mr.Exists("test:perm:user:9"))
	require.False(t, mr.Exists("test:sidebar:user:9"))
	require.NoError(t, perms.Invalidate(ctx, 9))
}

func TestServiceRebuildsWhenPermissionsChange(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	perms := &stubPermissions{sets: map[int64]rbac.PermissionSet{
		5: rbac.NewPermissionSet(shared.PermSalesView),
	}}
	svc := NewService(perms, stubRoles{5: 2}, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	menu, err := svc.Menu(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"sales"}, keys(menu.Items))
	require.Equal(t, rbac.NewPermissionSet(shared.PermSalesView).Hash(), menu.Hash)

	cached, err := c.Get(ctx, 5, 2, menu.Hash)
	require.NoError(t, err)
	require.Equal(t, menu.Items, cached.Items)

	again, err := svc.Menu(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, menu, again)

	perms.mu.Lock()
	perms.sets[5] = rbac.NewPermissionSet(shared.PermHRView, shared.PermHRPayrollView)
	perms.mu.Unlock()

	menu, err = svc.Menu(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"hr", "hr.payroll"}, keys(menu.Items))
}

func TestServiceUnknownUserGetsEmptyMenu(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	svc := NewService(&stubPermissions{}, stubRoles{}, c, nil)

	menu, err := svc.Menu(context.Background(), 404)
	require.NoError(t, err)
	require.Empty(t, menu.Items)
}

func TestServicePropagatesPermissionErrors(t *testing.T) {
	c, _, _ := newTestCache(t, nil)
	boom := errors.New("store down")
	svc := NewService(&stubPermissions{err: boom}, stubRoles{1: 1}, c, nil)

	_, err := svc.Menu(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}
