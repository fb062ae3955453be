package users

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	SetActive(ctx context.Context, userID int64, active bool) (bool, error)
}

// SessionCloser closes every session of a user. sessions.Manager satisfies it.
type SessionCloser interface {
	DeactivateAll(ctx context.Context, userID int64) (int, error)
}

// PermissionInvalidator drops a user's cached permissions.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// AuditPort receives audit events after a change has committed.
type AuditPort interface {
	Emit(entry shared.AuditLog)
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	sessions    SessionCloser
	permissions PermissionInvalidator
	audit       AuditPort
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sessions SessionCloser, permissions PermissionInvalidator, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, permissions: permissions, audit: audit, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// SetActive enables or disables an account. Disabling closes every session
// of the user and drops cached permissions; it returns the number of
// sessions closed.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) (int, error) {
	previous, err := s.repo.SetActive(ctx, userID, active)
	if err != nil {
		return 0, err
	}
	if previous != active {
		s.emit(ctx, userID, previous, active)
	}
	if active {
		return 0, nil
	}
	closed, err := s.sessions.DeactivateAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.permissions.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate permissions after deactivation", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return closed, nil
}

func (s *Service) emit(ctx context.Context, userID int64, previous, active bool) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		Action:   shared.AuditActionUpdate,
		Table:    "users",
		RecordID: strconv.FormatInt(userID, 10),
		OldValue: map[string]bool{"is_active": previous},
		NewValue: map[string]bool{"is_active": active},
	}
	if id, ok := shared.IdentityFromContext(ctx); ok {
		entry.ActorID, entry.IP, entry.UserAgent = id.UserID, id.IP, id.UserAgent
	}
	s.audit.Emit(entry)
}
