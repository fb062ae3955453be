// Package sessions tracks login sessions and enforces the per-user
// concurrent session limit.
package sessions

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
)

const (
	// DefaultMaxSessions applies to users without a session limit row.
	DefaultMaxSessions = 2
	// DefaultRetention is how long inactive rows are kept after their last activity.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultSessionTTL is the lifetime of a new session.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// MaxSessionsCeiling bounds admin-configured limits.
	MaxSessionsCeiling = 100
)

var (
	// ErrSessionNotFound covers unknown sessions and sessions owned by someone else.
	ErrSessionNotFound = fmt.Errorf("sessions: session not found: %w", httpx.ErrNotFound)
	// ErrUserNotFound indicates the target user does not exist.
	ErrUserNotFound = fmt.Errorf("sessions: user not found: %w", httpx.ErrNotFound)
)

// DeviceInfo describes the client that opened a session.
type DeviceInfo struct {
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	IP         string `json:"ip,omitempty"`
	Location   string `json:"location,omitempty"`
	UserAgent  string `json:"-"`
}

// Session is one row of user_sessions.
type Session struct {
	ID               string    `json:"session_id"`
	UserID           int64     `json:"user_id"`
	RefreshTokenHash string    `json:"-"`
	DeviceType       string    `json:"device_type"`
	Browser          string    `json:"browser"`
	OS               string    `json:"os"`
	IP               string    `json:"ip,omitempty"`
	Location         string    `json:"location,omitempty"`
	IsActive         bool      `json:"is_active"`
	IsCurrent        bool      `json:"is_current"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Live reports whether the session is active and unexpired at now.
func (s Session) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// Limit is the effective concurrent session limit of a user.
type Limit struct {
	UserID      int64 `json:"user_id"`
	MaxSessions int   `json:"max_sessions"`
	IsDefault   bool  `json:"is_default"`
}

// SweepResult counts rows removed by a sweep.
type SweepResult struct {
	Expired  int64 `json:"expired"`
	Inactive int64 `json:"inactive"`
}

// Total returns the number of deleted rows.
func (r SweepResult) Total() int64 {
	return r.Expired + r.Inactive
}

// NewRefreshToken returns a random opaque token and its storage hash.
func NewRefreshToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("sessions: refresh token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken is the only form in which refresh tokens are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
