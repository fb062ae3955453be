package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Authenticator turns a bearer access token into a request Identity. The
// bound session must still be live, so logout and eviction take effect
// before the access token expires.
type Authenticator struct {
	tokens     *TokenIssuer
	sessions   SessionManager
	now        shared.Clock
	touchEvery time.Duration
	logger     *slog.Logger
}

// NewAuthenticator builds the middleware. Activity is reported at most once
// per touchEvery for each session.
func NewAuthenticator(tokens *TokenIssuer, sessions SessionManager, clock shared.Clock, touchEvery time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, sessions: sessions, now: clock.OrSystem(), touchEvery: touchEvery, logger: logger}
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		claims, err := a.tokens.Parse(raw)
		if err != nil {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		sess, err := a.sessions.Active(r.Context(), claims.SessionID)
		if err != nil {
			if httpx.StatusFor(err) >= http.StatusInternalServerError {
				a.logger.Error("auth load session", slog.String("session_id", claims.SessionID), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		if sess.UserID != claims.UserID {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		if a.now().Sub(sess.LastActivity) >= a.touchEvery {
			if err := a.sessions.Touch(r.Context(), sess.ID); err != nil {
				a.logger.Warn("auth touch session", slog.String("session_id", sess.ID), slog.Any("error", err))
			}
		}
		ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{
			UserID:    claims.UserID,
			SessionID: claims.SessionID,
			IP:        sessions.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
