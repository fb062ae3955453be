package rbac

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Resolver computes effective permission sets straight from the store.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns (roleGrants ∪ userGrants ∪ allow overrides) minus deny
// overrides. Unknown and inactive users resolve to an empty set. Store
// failures are returned as errors and never as an empty set.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	roleID, active, err := r.store.UserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return PermissionSet{}, nil
		}
		return nil, fmt.Errorf("rbac: resolve user %d: %w", userID, err)
	}
	if !active {
		return PermissionSet{}, nil
	}

	var roleKeys, userKeys []string
	var overrides []Override
	g, gctx := errgroup.WithContext(ctx)
	if roleID > 0 {
		g.Go(func() error {
			var err error
			roleKeys, err = r.store.RoleGrants(gctx, roleID)
			return err
		})
	}
	g.Go(func() error {
		var err error
		userKeys, err = r.store.UserGrants(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = r.store.Overrides(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rbac: resolve user %d: %w", userID, err)
	}
	return Effective(roleKeys, userKeys, overrides), nil
}

// Effective applies deny-wins set algebra. Override rows with an unknown
// effect are ignored.
func Effective(roleKeys, userKeys []string, overrides []Override) PermissionSet {
	set := NewPermissionSet(roleKeys...)
	for _, k := range userKeys {
		if k = NormalizeKey(k); k != "" {
			set[k] = struct{}{}
		}
	}
	deny := make(map[string]struct{})
	for _, o := range overrides {
		key := NormalizeKey(o.Key)
		if key == "" {
			continue
		}
		switch Effect(NormalizeKey(string(o.Effect))) {
		case EffectAllow:
			set[key] = struct{}{}
		case EffectDeny:
			deny[key] = struct{}{}
		}
	}
	for k := range deny {
		delete(set, k)
	}
	return set
}
