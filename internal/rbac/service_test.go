package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accesscore/internal/platform/cache"
	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

func newTestService(t *testing.T) (*Service, *memoryStore, *recordingAudit, *fakeClock) {
	t.Helper()
	store := newMemoryStore()
	clock := newFakeClock()
	audit := &recordingAudit{}
	pc := NewPermissionCache(cache.NewMemoryStore(128, time.Hour), 15*time.Minute, clock.Now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, pc, audit, logger), store, audit, clock
}

func TestServiceCachedEqualsFresh(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView, shared.PermSalesOrderView}
	store.addUser(42, cashierRole)
	store.overrides[42] = []Override{{Key: shared.PermSalesOrderView, Effect: EffectDeny}}
	ctx := context.Background()

	first, err := svc.Effective(ctx, 42)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	cached, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	fresh, err := svc.Fresh(ctx, 42)
	require.NoError(t, err)

	require.Equal(t, fresh.Sorted(), cached.Permissions.Sorted())
	require.Equal(t, first.Hash, cached.Hash)
	require.Equal(t, fresh.Hash(), cached.Hash)
}

func TestServiceServesStaleUntilTTLWithoutInvalidation(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	ctx := context.Background()

	_, err := svc.Effective(ctx, 42)
	require.NoError(t, err)

	// Direct edit that bypasses the service.
	store.mu.Lock()
	store.roles[cashierRole] = nil
	store.mu.Unlock()

	entry, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.True(t, entry.Permissions.Has(shared.PermSalesView))

	clock.Advance(15 * time.Minute)
	entry, err = svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.Empty(t, entry.Permissions)
}

func TestServiceReplaceRolePermissionsInvalidatesMembers(t *testing.T) {
	svc, store, audit, _ := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	store.addUser(43, cashierRole)
	ctx := shared.ContextWithIdentity(context.Background(), shared.Identity{UserID: 1, IP: "10.0.0.1"})

	for _, id := range []int64{42, 43} {
		entry, err := svc.Effective(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []string{shared.PermSalesView}, entry.Permissions.Sorted())
	}

	require.NoError(t, svc.ReplaceRolePermissions(ctx, cashierRole, []string{"Inventory.View", shared.PermSalesOrderView}))

	for _, id := range []int64{42, 43} {
		entry, err := svc.Effective(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []string{shared.PermInventoryView, shared.PermSalesOrderView}, entry.Permissions.Sorted())
	}

	entries := audit.all()
	require.Len(t, entries, 1)
	require.Equal(t, "role_permissions", entries[0].Table)
	require.Equal(t, int64(1), entries[0].ActorID)
	require.Equal(t, "10.0.0.1", entries[0].IP)
	require.Equal(t, []string{shared.PermSalesView}, entries[0].OldValue)
}

func TestServiceOverrideAndRoleChangesInvalidate(t *testing.T) {
	svc, store, audit, _ := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.roles[8] = []string{shared.PermFinanceView}
	store.addUser(42, cashierRole)
	ctx := context.Background()

	_, err := svc.Effective(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, svc.ReplaceUserOverrides(ctx, 42, []Override{{Key: shared.PermSalesView, Effect: EffectDeny}}))
	entry, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.Empty(t, entry.Permissions)

	require.NoError(t, svc.AssignUserRole(ctx, 42, 8))
	entry, err = svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermFinanceView}, entry.Permissions.Sorted())

	require.NoError(t, svc.ReplaceUserPermissions(ctx, 42, []string{shared.PermInventoryView}))
	ok, err := svc.HasAll(ctx, 42, shared.PermFinanceView, shared.PermInventoryView)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, audit.all(), 3)
}

func TestServiceRejectsUnknownPermissionKeys(t *testing.T) {
	svc, store, audit, _ := newTestService(t)
	store.addUser(42, cashierRole)

	err := svc.ReplaceUserPermissions(context.Background(), 42, []string{"does.not.exist"})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, audit.all())

	err = svc.AssignUserRole(context.Background(), 404, cashierRole)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestServiceStoreErrorFailsClosed(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.addUser(42, cashierRole)
	store.failWith(errors.New("db down"))

	ok, err := svc.HasAny(context.Background(), 42, shared.PermSalesView)
	require.Error(t, err)
	require.False(t, ok)
}

func TestServiceCoalescesConcurrentMisses(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.HasAny(context.Background(), 42, shared.PermSalesView)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, store.roleReads.Load(), int64(16))

	before := store.roleReads.Load()
	_, err := svc.Effective(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, before, store.roleReads.Load())
}

func TestServiceInvalidateTwiceIsSameAsOnce(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	ctx := context.Background()

	_, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, 42))
	require.NoError(t, svc.Invalidate(ctx, 42))

	_, err = svc.Cache().Get(ctx, 42)
	require.ErrorIs(t, err, ErrCacheMiss)
}

// slowSetStore holds the first Set until release is closed.
type slowSetStore struct {
	cache.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowSetStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func TestServiceInvalidationDuringFillIsNotLost(t *testing.T) {
	store := newMemoryStore()
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	backend := &slowSetStore{
		Store:   cache.NewMemoryStore(128, time.Hour),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	pc := NewPermissionCache(backend, 15*time.Minute, newFakeClock().Now)
	svc := NewService(store, pc, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Effective(ctx, 42)
		done <- err
	}()

	<-backend.entered
	require.NoError(t, svc.ReplaceRolePermissions(ctx, cashierRole, []string{shared.PermInventoryView}))
	close(backend.release)
	require.NoError(t, <-done)

	entry, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	fresh, err := svc.Fresh(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermInventoryView}, entry.Permissions.Sorted())
	require.Equal(t, fresh.Hash(), entry.Hash)
}

func TestServiceUsersSharingEpochStripeStayCorrect(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	other := int64(42 + epochStripes)
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	store.addUser(other, cashierRole)
	ctx := context.Background()

	require.Equal(t, stripe(42), stripe(other))
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Invalidate(ctx, other))
	}
	require.NoError(t, svc.ReplaceUserPermissions(ctx, 42, []string{shared.PermInventoryView}))

	entry, err := svc.Effective(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermInventoryView, shared.PermSalesView}, entry.Permissions.Sorted())
	entry, err = svc.Effective(ctx, other)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermSalesView}, entry.Permissions.Sorted())
}
