package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/accesscore/internal/auth"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
	_ "github.com/odyssey-erp/accesscore/testing"
)

type stubRepo struct {
	user *auth.User
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

// stubSessions keeps sessions in a map keyed by id.
type stubSessions struct {
	mu      sync.Mutex
	byID    map[string]sessions.Session
	touched int
}

func newStubSessions() *stubSessions {
	return &stubSessions{byID: make(map[string]sessions.Session)}
}

func (s *stubSessions) CreateSession(ctx context.Context, userID int64, device sessions.DeviceInfo, ttl time.Duration) (sessions.Issued, error) {
	token, hash, err := sessions.NewRefreshToken()
	if err != nil {
		return sessions.Issued{}, err
	}
	now := time.Now().UTC()
	sess := sessions.Session{ID: "sess-" + hash[:8], UserID: userID, RefreshTokenHash: hash, IsActive: true, LastActivity: now, ExpiresAt: now.Add(ttl), CreatedAt: now, Browser: device.Browser}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return sessions.Issued{Session: sess, RefreshToken: token}, nil
}

func (s *stubSessions) RotateRefreshToken(ctx context.Context, rawToken string) (sessions.Issued, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := sessions.HashToken(rawToken)
	for id, sess := range s.byID {
		if sess.RefreshTokenHash == hash && sess.IsActive {
			token, newHash, err := sessions.NewRefreshToken()
			if err != nil {
				return sessions.Issued{}, err
			}
			sess.RefreshTokenHash = newHash
			s.byID[id] = sess
			return sessions.Issued{Session: sess, RefreshToken: token}, nil
		}
	}
	return sessions.Issued{}, shared.ErrSessionInvalid
}

func (s *stubSessions) Active(ctx context.Context, sessionID string) (sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok || !sess.IsActive {
		return sessions.Session{}, shared.ErrSessionInvalid
	}
	return sess, nil
}

func (s *stubSessions) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.touched++
	s.mu.Unlock()
	return nil
}

func (s *stubSessions) LogoutOne(ctx context.Context, userID int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok || sess.UserID != userID {
		return sessions.ErrSessionNotFound
	}
	sess.IsActive = false
	s.byID[sessionID] = sess
	return nil
}

func newAuthRouter(t *testing.T, user *auth.User) (http.Handler, *stubSessions) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenIssuer("test-secret-at-least-16", time.Minute, nil)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	store := newStubSessions()
	authn := auth.NewAuthenticator(tokens, store, nil, time.Minute, logger)
	service := auth.NewService(&stubRepo{user: user}, store, tokens, time.Hour)
	handler := auth.NewHandler(logger, service, authn, "CF-IPCountry")

	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	r.With(authn.Middleware).Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		id, _ := shared.IdentityFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": id.UserID, "session_id": id.SessionID})
	})
	return r, store
}

func activeUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &auth.User{ID: 42, Email: "user@test.local", PasswordHash: string(hashed), IsActive: true}
}

func post(router http.Handler, target, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func login(t *testing.T, router http.Handler) auth.Tokens {
	t.Helper()
	res := post(router, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var tokens auth.Tokens
	if err := json.Unmarshal(res.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	return tokens
}

func TestLoginInvalidCredentials(t *testing.T) {
	router, _ := newAuthRouter(t, activeUser(t))

	res := post(router, "/auth/login", `{"email":"user@test.local","password":"wrongpass"}`, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "invalid credentials") {
		t.Fatalf("expected invalid credentials problem, got %s", res.Body.String())
	}

	res = post(router, "/auth/login", `{"email":"nobody@test.local","password":"wrongpass"}`, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", res.Code)
	}

	res = post(router, "/auth/login", `{"email":"not-an-email","password":"x"}`, "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLoginInactiveUserRejected(t *testing.T) {
	user := activeUser(t)
	user.IsActive = false
	router, _ := newAuthRouter(t, user)

	res := post(router, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestBearerTokenBindsIdentity(t *testing.T) {
	router, store := newAuthRouter(t, activeUser(t))
	tokens := login(t, router)
	if tokens.TokenType != "Bearer" || tokens.RefreshToken == "" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), tokens.SessionID) {
		t.Fatalf("expected session id in identity, got %s", res.Body.String())
	}
	if store.touched != 0 {
		t.Fatalf("fresh session should not be touched, got %d", store.touched)
	}

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	router, _ := newAuthRouter(t, activeUser(t))
	tokens := login(t, router)

	res := post(router, "/auth/logout", "", tokens.AccessToken)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}

	res = post(router, "/auth/logout", "", tokens.AccessToken)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", res.Code)
	}

	res = post(router, "/auth/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 refreshing a closed session, got %d", res.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	router, _ := newAuthRouter(t, activeUser(t))
	tokens := login(t, router)

	res := post(router, "/auth/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var rotated auth.Tokens
	if err := json.Unmarshal(res.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.SessionID != tokens.SessionID || rotated.RefreshToken == tokens.RefreshToken {
		t.Fatalf("expected rotated refresh token on the same session")
	}

	res = post(router, "/auth/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused refresh token, got %d", res.Code)
	}
}

func TestTokenIssuerRejectsTampering(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := auth.NewTokenIssuer("test-secret-at-least-16", time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, _, err := issuer.Issue(42, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Parse(token)
	if err != nil || claims.UserID != 42 || claims.SessionID != "sess-1" {
		t.Fatalf("parse: %v %+v", err, claims)
	}

	other, _ := auth.NewTokenIssuer("another-secret-16-bytes", time.Minute, func() time.Time { return now })
	if _, err := other.Parse(token); err == nil {
		t.Fatalf("expected signature failure")
	}

	later, _ := auth.NewTokenIssuer("test-secret-at-least-16", time.Minute, func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := later.Parse(token); err == nil {
		t.Fatalf("expected expiry failure")
	}

	if _, err := auth.NewTokenIssuer("short", time.Minute, nil); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}
