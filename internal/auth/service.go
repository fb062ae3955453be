package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// SessionManager is the part of sessions.Manager used by authentication.
type SessionManager interface {
	CreateSession(ctx context.Context, userID int64, device sessions.DeviceInfo, ttl time.Duration) (sessions.Issued, error)
	RotateRefreshToken(ctx context.Context, rawToken string) (sessions.Issued, error)
	Active(ctx context.Context, sessionID string) (sessions.Session, error)
	Touch(ctx context.Context, sessionID string) error
	LogoutOne(ctx context.Context, userID int64, sessionID string) error
}

// dummyHash keeps the cost of a failed lookup close to a failed compare.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("accesscore-dummy-password"), bcrypt.DefaultCost)

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	sessions   SessionManager
	tokens     *TokenIssuer
	sessionTTL time.Duration
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions SessionManager, tokens *TokenIssuer, sessionTTL time.Duration) *Service {
	return &Service{repo: repo, sessions: sessions, tokens: tokens, sessionTTL: sessionTTL}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a session, which may evict older ones.
func (s *Service) Login(ctx context.Context, email, password string, device sessions.DeviceInfo) (Tokens, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Tokens{}, err
	}
	issued, err := s.sessions.CreateSession(ctx, user.ID, device, s.sessionTTL)
	if err != nil {
		return Tokens{}, err
	}
	return s.tokensFor(issued)
}

// Refresh validates the refresh token, rotates it and issues a new access
// token. Deactivated users cannot refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, shared.ErrSessionInvalid
	}
	issued, err := s.sessions.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		return Tokens{}, err
	}
	user, err := s.repo.FindByID(ctx, issued.Session.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Tokens{}, shared.ErrSessionInvalid
		}
		return Tokens{}, err
	}
	if !user.IsActive {
		_ = s.sessions.LogoutOne(ctx, user.ID, issued.Session.ID)
		return Tokens{}, shared.ErrSessionInvalid
	}
	return s.tokensFor(issued)
}

// Logout closes the caller's current session.
func (s *Service) Logout(ctx context.Context, userID int64, sessionID string) error {
	return s.sessions.LogoutOne(ctx, userID, sessionID)
}

func (s *Service) tokensFor(issued sessions.Issued) (Tokens, error) {
	access, expiresAt, err := s.tokens.Issue(issued.Session.UserID, issued.Session.ID)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:     access,
		TokenType:       "Bearer",
		ExpiresIn:       int64(s.tokens.TTL().Seconds()),
		AccessExpiresAt: expiresAt,
		RefreshToken:    issued.RefreshToken,
		SessionID:       issued.Session.ID,
		SessionExpires:  issued.Session.ExpiresAt,
	}, nil
}
