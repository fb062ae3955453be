package roles

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
}

// AuditPort receives audit events after a change has committed.
type AuditPort interface {
	Emit(entry shared.AuditLog)
}

// Service handles role business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole adds an empty role. Grants are assigned through the rbac admin
// endpoints so that cache invalidation stays in one place.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", httpx.ErrValidation)
	}
	role, err := s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	if s.audit != nil {
		entry := shared.AuditLog{
			Action:   shared.AuditActionCreate,
			Table:    "roles",
			RecordID: strconv.FormatInt(role.ID, 10),
			NewValue: map[string]string{"name": role.Name, "description": role.Description},
		}
		if id, ok := shared.IdentityFromContext(ctx); ok {
			entry.ActorID, entry.IP, entry.UserAgent = id.UserID, id.IP, id.UserAgent
		}
		s.audit.Emit(entry)
	}
	return role, nil
}
