package rbac

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

const cashierRole int64 = 7

func TestResolveRoleGrantOnly(t *testing.T) {
	store := newMemoryStore()
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)

	set, err := NewResolver(store).Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermSalesView}, set.Sorted())
}

func TestResolveDenyOverrideRemovesRoleGrant(t *testing.T) {
	store := newMemoryStore()
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	store.overrides[42] = []Override{{Key: shared.PermSalesView, Effect: EffectDeny}}

	set, err := NewResolver(store).Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestResolveUnionOfGrantsAndAllows(t *testing.T) {
	store := newMemoryStore()
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.addUser(42, cashierRole)
	store.userKeys[42] = []string{shared.PermInventoryView}
	store.overrides[42] = []Override{
		{Key: shared.PermFinanceView, Effect: EffectAllow},
		{Key: shared.PermInventoryView, Effect: EffectDeny},
	}

	set, err := NewResolver(store).Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermFinanceView, shared.PermSalesView}, set.Sorted())
}

func TestResolveUnknownAndInactiveUsersAreEmpty(t *testing.T) {
	store := newMemoryStore()
	store.roles[cashierRole] = []string{shared.PermSalesView}
	store.users[9] = memUser{roleID: cashierRole, active: false}

	resolver := NewResolver(store)
	set, err := resolver.Resolve(context.Background(), 404)
	require.NoError(t, err)
	require.Empty(t, set)

	set, err = resolver.Resolve(context.Background(), 9)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.addUser(42, cashierRole)
	boom := errors.New("connection reset")
	store.failWith(boom)

	set, err := NewResolver(store).Resolve(context.Background(), 42)
	require.ErrorIs(t, err, boom)
	require.Nil(t, set)
}

func TestEffectiveDenyAlwaysWins(t *testing.T) {
	keys := []string{"a.view", "b.view", "c.view", "d.view", "e.view", "f.view"}
	rng := rand.New(rand.NewSource(1))
	pick := func() []string {
		var out []string
		for _, k := range keys {
			if rng.Intn(2) == 0 {
				out = append(out, k)
			}
		}
		return out
	}
	for i := 0; i < 500; i++ {
		roleKeys, userKeys := pick(), pick()
		var overrides []Override
		for _, k := range pick() {
			overrides = append(overrides, Override{Key: k, Effect: EffectAllow})
		}
		deny := pick()
		for _, k := range deny {
			overrides = append(overrides, Override{Key: k, Effect: EffectDeny})
		}

		got := Effective(roleKeys, userKeys, overrides)

		want := NewPermissionSet(roleKeys...)
		for _, k := range userKeys {
			want[k] = struct{}{}
		}
		for _, o := range overrides {
			if o.Effect == EffectAllow {
				want[o.Key] = struct{}{}
			}
		}
		for _, k := range deny {
			require.False(t, got.Has(k), "denied key %s leaked", k)
			delete(want, k)
		}
		require.Equal(t, want.Sorted(), got.Sorted())
	}
}

func TestEffectiveIgnoresUnknownEffects(t *testing.T) {
	got := Effective([]string{"Sales.View"}, nil, []Override{{Key: "sales.view", Effect: "maybe"}, {Key: " ", Effect: EffectDeny}})
	require.Equal(t, []string{"sales.view"}, got.Sorted())
}

func TestPermissionSetHashIsOrderIndependent(t *testing.T) {
	a := NewPermissionSet("b", "a", "c")
	b := NewPermissionSet("c", "b", "a", "a")
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), NewPermissionSet("a", "b").Hash())
}

func TestNormalizeOverridesKeepsOneRowPerKey(t *testing.T) {
	out, err := NormalizeOverrides([]Override{
		{Key: "Sales.View", Effect: EffectAllow},
		{Key: "sales.view", Effect: "DENY"},
	})
	require.NoError(t, err)
	require.Equal(t, []Override{{Key: "sales.view", Effect: EffectDeny}}, out)

	_, err = NormalizeOverrides([]Override{{Key: "sales.view", Effect: "grant"}})
	require.Error(t, err)
}
