package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// PolicyMode controls whether permission gates are evaluated.
type PolicyMode int

const (
	// PolicyEnforce evaluates every gate against the effective set.
	PolicyEnforce PolicyMode = iota
	// PolicyBypassForTesting lets any authenticated identity through.
	PolicyBypassForTesting
)

func (m PolicyMode) String() string {
	switch m {
	case PolicyEnforce:
		return "enforce"
	case PolicyBypassForTesting:
		return "bypass_for_testing"
	default:
		return fmt.Sprintf("PolicyMode(%d)", int(m))
	}
}

// ParsePolicyMode parses a configuration value. An empty value enforces.
func ParsePolicyMode(raw string) (PolicyMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "enforce":
		return PolicyEnforce, nil
	case "bypass_for_testing", "bypass":
		return PolicyBypassForTesting, nil
	default:
		return PolicyEnforce, fmt.Errorf("rbac: unknown policy mode %q", raw)
	}
}

// Checker answers permission questions for a user.
type Checker interface {
	HasAny(ctx context.Context, userID int64, keys ...string) (bool, error)
	HasAll(ctx context.Context, userID int64, keys ...string) (bool, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	checker Checker
	mode    PolicyMode
	logger  *slog.Logger
}

// NewMiddleware builds the gate middleware. The mode is fixed for the
// lifetime of the value.
func NewMiddleware(checker Checker, mode PolicyMode, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == PolicyBypassForTesting {
		logger.Warn("rbac permission gates bypassed", slog.String("mode", mode.String()))
	}
	return Middleware{checker: checker, mode: mode, logger: logger}
}

// Mode reports the configured policy mode.
func (m Middleware) Mode() PolicyMode {
	return m.mode
}

// RequirePermission ensures the current user holds key.
func (m Middleware) RequirePermission(key string) func(http.Handler) http.Handler {
	return m.RequireAny(key)
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.gate("require any", NormalizeKeys(perms), m.checkAny)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.gate("require all", NormalizeKeys(perms), m.checkAll)
}

func (m Middleware) checkAny(ctx context.Context, userID int64, keys []string) (bool, error) {
	return m.checker.HasAny(ctx, userID, keys...)
}

func (m Middleware) checkAll(ctx context.Context, userID int64, keys []string) (bool, error) {
	return m.checker.HasAll(ctx, userID, keys...)
}

func (m Middleware) gate(name string, keys []string, check func(context.Context, int64, []string) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if m.mode == PolicyBypassForTesting || len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := check(r.Context(), id.UserID, keys)
			if err != nil {
				m.logger.Error("rbac "+name, slog.Int64("user_id", id.UserID), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !allowed {
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
