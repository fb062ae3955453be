package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// AuditPort receives audit events after a change has committed.
type AuditPort interface {
	Emit(entry shared.AuditLog)
}

const sessionsTable = "user_sessions"

type noopAudit struct{}

func (noopAudit) Emit(shared.AuditLog) {}

// Config holds the manager's tunables.
type Config struct {
	DefaultLimit int
	SessionTTL   time.Duration
	Retention    time.Duration
}

// Issued is a freshly created or rotated session together with the raw
// refresh token, which is never stored.
type Issued struct {
	Session      Session
	RefreshToken string
}

// Manager owns the session lifecycle.
type Manager struct {
	repo   Repository
	audit  AuditPort
	now    shared.Clock
	cfg    Config
	logger *slog.Logger
}

// NewManager wires a Manager. Zero config values fall back to the defaults.
func NewManager(repo Repository, audit AuditPort, clock shared.Clock, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultMaxSessions
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if audit == nil {
		audit = noopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, audit: audit, now: clock.OrSystem(), cfg: cfg, logger: logger}
}

// CreateSession opens a session for userID, evicting the least recently
// active sessions when the user's limit is reached. A non-positive ttl uses
// the configured session TTL.
func (m *Manager) CreateSession(ctx context.Context, userID int64, device DeviceInfo, ttl time.Duration) (Issued, error) {
	if userID <= 0 {
		return Issued{}, fmt.Errorf("sessions: user id required: %w", httpx.ErrValidation)
	}
	if ttl <= 0 {
		ttl = m.cfg.SessionTTL
	}
	token, hash, err := NewRefreshToken()
	if err != nil {
		return Issued{}, err
	}
	now := m.now()
	s := Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: hash,
		DeviceType:       device.DeviceType,
		Browser:          device.Browser,
		OS:               device.OS,
		IP:               device.IP,
		Location:         device.Location,
		IsActive:         true,
		LastActivity:     now,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}
	evicted, err := m.repo.CreateWithLimit(ctx, s, m.cfg.DefaultLimit)
	if err != nil {
		return Issued{}, err
	}
	for _, e := range evicted {
		m.logger.Info("session evicted", slog.Int64("user_id", userID), slog.String("session_id", e.ID))
		m.emit(ctx, userID, sessionsTable, shared.AuditActionEvict, e.ID, map[string]any{"is_active": true, "last_activity": e.LastActivity}, map[string]any{"is_active": false})
	}
	m.emit(ctx, userID, sessionsTable, shared.AuditActionLogin, s.ID, nil, map[string]any{
		"device_type": s.DeviceType, "browser": s.Browser, "os": s.OS, "location": s.Location,
	})
	return Issued{Session: s, RefreshToken: token}, nil
}

// Touch records activity on a live session. It never reactivates one.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := m.repo.Touch(ctx, sessionID, m.now())
	return err
}

// Validate returns the session owning refreshTokenHash iff it is active and
// unexpired. Anything else is ErrSessionInvalid.
func (m *Manager) Validate(ctx context.Context, refreshTokenHash string) (Session, error) {
	if refreshTokenHash == "" {
		return Session{}, shared.ErrSessionInvalid
	}
	now := m.now()
	s, err := m.repo.FindLiveByRefreshHash(ctx, refreshTokenHash, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, shared.ErrSessionInvalid
		}
		return Session{}, err
	}
	if !s.Live(now) {
		return Session{}, shared.ErrSessionInvalid
	}
	return s, nil
}

// Active returns the live session with the given id, for bearer checks.
func (m *Manager) Active(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, shared.ErrSessionInvalid
	}
	now := m.now()
	s, err := m.repo.FindLive(ctx, sessionID, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, shared.ErrSessionInvalid
		}
		return Session{}, err
	}
	if !s.Live(now) {
		return Session{}, shared.ErrSessionInvalid
	}
	return s, nil
}

// RotateRefreshToken validates rawToken and replaces it with a new one.
// A token that was already rotated no longer validates.
func (m *Manager) RotateRefreshToken(ctx context.Context, rawToken string) (Issued, error) {
	s, err := m.Validate(ctx, HashToken(rawToken))
	if err != nil {
		return Issued{}, err
	}
	token, hash, err := NewRefreshToken()
	if err != nil {
		return Issued{}, err
	}
	now := m.now()
	ok, err := m.repo.RotateRefreshHash(ctx, s.ID, s.RefreshTokenHash, hash, now)
	if err != nil {
		return Issued{}, err
	}
	if !ok {
		return Issued{}, shared.ErrSessionInvalid
	}
	s.RefreshTokenHash = hash
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	return Issued{Session: s, RefreshToken: token}, nil
}

// ListActive lists the user's live sessions, most recent first, flagging
// currentSessionID.
func (m *Manager) ListActive(ctx context.Context, userID int64, currentSessionID string) ([]Session, error) {
	list, err := m.repo.ListLive(ctx, userID, m.now())
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].IsCurrent = list[i].ID == currentSessionID
	}
	return list, nil
}

// LogoutOne deactivates sessionID when it belongs to userID. Sessions of
// other users are reported as not found.
func (m *Manager) LogoutOne(ctx context.Context, userID int64, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	ok, err := m.repo.Deactivate(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	m.emit(ctx, userID, sessionsTable, shared.AuditActionLogout, sessionID, map[string]bool{"is_active": true}, map[string]bool{"is_active": false})
	return nil
}

// LogoutOthers deactivates every live session of userID except
// currentSessionID and returns how many were closed.
func (m *Manager) LogoutOthers(ctx context.Context, userID int64, currentSessionID string) (int, error) {
	ids, err := m.repo.DeactivateOthers(ctx, userID, currentSessionID, m.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.emit(ctx, userID, sessionsTable, shared.AuditActionLogout, id, map[string]bool{"is_active": true}, map[string]bool{"is_active": false})
	}
	return len(ids), nil
}

// DeactivateAll closes every active session of userID.
func (m *Manager) DeactivateAll(ctx context.Context, userID int64) (int, error) {
	ids, err := m.repo.DeactivateAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.emit(ctx, userID, sessionsTable, shared.AuditActionLogout, id, map[string]bool{"is_active": true}, map[string]bool{"is_active": false})
	}
	return len(ids), nil
}

// SweepExpired deletes expired rows and inactive rows past retention.
func (m *Manager) SweepExpired(ctx context.Context) (SweepResult, error) {
	res, err := m.repo.Sweep(ctx, m.now(), m.cfg.Retention)
	if err != nil {
		return SweepResult{}, err
	}
	if res.Total() > 0 {
		m.audit.Emit(shared.AuditLog{
			Action:   shared.AuditActionDelete,
			Table:    sessionsTable,
			RecordID: "sweep",
			NewValue: res,
		})
	}
	return res, nil
}

// SetLimit stores the user's limit. Existing sessions are left alone; the
// limit applies from the next CreateSession.
func (m *Manager) SetLimit(ctx context.Context, userID int64, maxSessions int) error {
	if userID <= 0 {
		return fmt.Errorf("sessions: user id required: %w", httpx.ErrValidation)
	}
	if maxSessions < 1 || maxSessions > MaxSessionsCeiling {
		return fmt.Errorf("sessions: max_sessions must be between 1 and %d: %w", MaxSessionsCeiling, httpx.ErrValidation)
	}
	previous, hadRow, err := m.repo.UpsertLimit(ctx, userID, maxSessions)
	if err != nil {
		return err
	}
	var old any
	if hadRow {
		old = map[string]int{"max_sessions": previous}
	}
	m.emit(ctx, userID, "user_session_limits", shared.AuditActionUpdate, strconv.FormatInt(userID, 10), old, map[string]int{"max_sessions": maxSessions})
	return nil
}

// GetLimit returns the effective limit of userID.
func (m *Manager) GetLimit(ctx context.Context, userID int64) (Limit, error) {
	limit, ok, err := m.repo.GetLimit(ctx, userID)
	if err != nil {
		return Limit{}, err
	}
	if !ok {
		return Limit{UserID: userID, MaxSessions: m.cfg.DefaultLimit, IsDefault: true}, nil
	}
	return Limit{UserID: userID, MaxSessions: limit}, nil
}

// emit attributes the event to the request identity when present, else to
// the session owner.
func (m *Manager) emit(ctx context.Context, ownerID int64, table, action, recordID string, oldValue, newValue any) {
	entry := shared.AuditLog{
		ActorID:  ownerID,
		Action:   action,
		Table:    table,
		RecordID: recordID,
		OldValue: oldValue,
		NewValue: newValue,
	}
	if id, ok := shared.IdentityFromContext(ctx); ok {
		entry.ActorID = id.UserID
		entry.IP = id.IP
		entry.UserAgent = id.UserAgent
	}
	m.audit.Emit(entry)
}
