package shared

import (
	"fmt"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = fmt.Errorf("not found: %w", httpx.ErrNotFound)
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrUnauthenticated indicates that no valid identity accompanied the request.
	ErrUnauthenticated = fmt.Errorf("authentication required: %w", httpx.ErrUnauthorized)
	// ErrSessionInvalid indicates a refresh token whose session is inactive, expired or unknown.
	ErrSessionInvalid = fmt.Errorf("session invalid or expired: %w", httpx.ErrUnauthorized)
	// ErrPermissionDenied indicates a valid identity lacking the required permission.
	ErrPermissionDenied = fmt.Errorf("permission denied: %w", httpx.ErrForbidden)
)
