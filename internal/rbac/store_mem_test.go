package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

type memUser struct {
	roleID int64
	active bool
}

type memoryStore struct {
	mu        sync.Mutex
	catalog   map[string]int64
	roles     map[int64][]string
	users     map[int64]memUser
	userKeys  map[int64][]string
	overrides map[int64][]Override
	err       error
	roleReads atomic.Int64
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		catalog:   make(map[string]int64),
		roles:     make(map[int64][]string),
		users:     make(map[int64]memUser),
		userKeys:  make(map[int64][]string),
		overrides: make(map[int64][]Override),
	}
	for i, k := range append(shared.CoreScopes(), shared.PermSalesView, shared.PermSalesOrderView, shared.PermInventoryView, shared.PermFinanceView) {
		s.catalog[k] = int64(i + 1)
	}
	return s
}

func (s *memoryStore) addUser(userID, roleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = memUser{roleID: roleID, active: true}
	if _, ok := s.roles[roleID]; !ok && roleID > 0 {
		s.roles[roleID] = nil
	}
}

func (s *memoryStore) failWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *memoryStore) UserRole(_ context.Context, userID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return 0, false, ErrUserNotFound
	}
	return u.roleID, u.active, nil
}

func (s *memoryStore) RoleGrants(_ context.Context, roleID int64) ([]string, error) {
	s.roleReads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.roles[roleID]...), nil
}

func (s *memoryStore) UserGrants(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.userKeys[userID]...), nil
}

func (s *memoryStore) Overrides(_ context.Context, userID int64) ([]Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Override(nil), s.overrides[userID]...), nil
}

func (s *memoryStore) ListPermissions(context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.catalog))
	for k, id := range s.catalog {
		out = append(out, Permission{ID: id, Key: k})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memoryStore) UsersWithRole(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, u := range s.users {
		if u.roleID == roleID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) checkKeys(keys []string) error {
	for _, k := range keys {
		if _, ok := s.catalog[k]; !ok {
			return fmt.Errorf("unknown permission %s: %w", k, httpx.ErrValidation)
		}
	}
	return nil
}

func (s *memoryStore) ReplaceRolePermissions(_ context.Context, roleID int64, keys []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	if err := s.checkKeys(keys); err != nil {
		return nil, err
	}
	s.roles[roleID] = append([]string(nil), keys...)
	return old, nil
}

func (s *memoryStore) ReplaceUserPermissions(_ context.Context, userID int64, keys []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	if err := s.checkKeys(keys); err != nil {
		return nil, err
	}
	old := s.userKeys[userID]
	s.userKeys[userID] = append([]string(nil), keys...)
	return old, nil
}

func (s *memoryStore) ReplaceUserOverrides(_ context.Context, userID int64, overrides []Override) ([]Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	for _, o := range overrides {
		if err := s.checkKeys([]string{o.Key}); err != nil {
			return nil, err
		}
	}
	old := s.overrides[userID]
	s.overrides[userID] = append([]Override(nil), overrides...)
	return old, nil
}

func (s *memoryStore) AssignUserRole(_ context.Context, userID, roleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return 0, ErrRoleNotFound
	}
	previous := u.roleID
	u.roleID = roleID
	s.users[userID] = u
	return previous, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *recordingAudit) Emit(entry shared.AuditLog) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

func (a *recordingAudit) all() []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditLog(nil), a.entries...)
}
