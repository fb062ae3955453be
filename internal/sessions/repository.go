package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/accesscore/internal/platform/db"
)

// lockNamespace is the first key of the per-user advisory lock taken while
// creating a session.
const lockNamespace int32 = 0x5e55

// Repository defines persistence operations for sessions.
type Repository interface {
	// CreateWithLimit linearizes per user: read the limit, count live
	// sessions, deactivate the least recently active ones until there is
	// room, insert. It returns the evicted sessions.
	CreateWithLimit(ctx context.Context, s Session, defaultLimit int) ([]Session, error)
	Touch(ctx context.Context, id string, now time.Time) (bool, error)
	FindLive(ctx context.Context, id string, now time.Time) (Session, error)
	FindLiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error)
	RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, now time.Time) (bool, error)
	ListLive(ctx context.Context, userID int64, now time.Time) ([]Session, error)
	Deactivate(ctx context.Context, userID int64, id string) (bool, error)
	DeactivateOthers(ctx context.Context, userID int64, keepID string, now time.Time) ([]string, error)
	DeactivateAll(ctx context.Context, userID int64) ([]string, error)
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (SweepResult, error)
	GetLimit(ctx context.Context, userID int64) (int, bool, error)
	UpsertLimit(ctx context.Context, userID int64, maxSessions int) (previous int, hadRow bool, err error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const sessionColumns = `id, user_id, refresh_token_hash, device_type, browser, os, ip, location, is_active, last_activity, expires_at, created_at`

// CreateWithLimit runs at READ COMMITTED so that statements after the lock
// see sessions committed by a concurrent login that held it first.
func (r *PGRepository) CreateWithLimit(ctx context.Context, s Session, defaultLimit int) ([]Session, error) {
	var evicted []Session
	err := db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int4, $2::int4)`, lockNamespace, lockKey(s.UserID)); err != nil {
			return fmt.Errorf("sessions: lock user %d: %w", s.UserID, err)
		}
		limit := defaultLimit
		var stored int32
		err := tx.QueryRow(ctx, `SELECT max_sessions FROM user_session_limits WHERE user_id = $1`, s.UserID).Scan(&stored)
		switch {
		case err == nil:
			limit = int(stored)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("sessions: read limit: %w", err)
		}
		if limit < 1 {
			limit = 1
		}
		var live int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_sessions WHERE user_id = $1 AND is_active AND expires_at > $2`, s.UserID, s.CreatedAt).Scan(&live); err != nil {
			return fmt.Errorf("sessions: count live: %w", err)
		}
		if excess := live - limit + 1; excess > 0 {
			rows, err := tx.Query(ctx, `UPDATE user_sessions SET is_active = FALSE
WHERE id IN (
	SELECT id FROM user_sessions
	WHERE user_id = $1 AND is_active AND expires_at > $2
	ORDER BY last_activity ASC, id ASC
	LIMIT $3
)
RETURNING `+sessionColumns, s.UserID, s.CreatedAt, excess)
			if err != nil {
				return fmt.Errorf("sessions: evict: %w", err)
			}
			evicted, err = pgx.CollectRows(rows, scanSession)
			if err != nil {
				return fmt.Errorf("sessions: evict: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO user_sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11)`,
			s.ID, s.UserID, s.RefreshTokenHash, s.DeviceType, s.Browser, s.OS,
			optionalText(s.IP), optionalText(s.Location), s.LastActivity, s.ExpiresAt, s.CreatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrUserNotFound
			}
			return fmt.Errorf("sessions: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// Touch bumps last_activity of a live session. Inactive sessions are left alone.
func (r *PGRepository) Touch(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET last_activity = GREATEST(last_activity, $2)
WHERE id = $1 AND is_active AND expires_at > $2`, id, now)
	if err != nil {
		return false, fmt.Errorf("sessions: touch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindLive returns the session when it is active and unexpired.
func (r *PGRepository) FindLive(ctx context.Context, id string, now time.Time) (Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1 AND is_active AND expires_at > $2`, id, now)
}

// FindLiveByRefreshHash looks a live session up by its refresh token hash.
func (r *PGRepository) FindLiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = $1 AND is_active AND expires_at > $2`, hash, now)
}

func (r *PGRepository) findOne(ctx context.Context, sql string, key string, now time.Time) (Session, error) {
	rows, err := r.pool.Query(ctx, sql, key, now)
	if err != nil {
		return Session{}, fmt.Errorf("sessions: find: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("sessions: find: %w", err)
	}
	return s, nil
}

// RotateRefreshHash swaps the refresh hash iff oldHash is still current.
func (r *PGRepository) RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET refresh_token_hash = $3, last_activity = GREATEST(last_activity, $4)
WHERE id = $1 AND refresh_token_hash = $2 AND is_active AND expires_at > $4`, id, oldHash, newHash, now)
	if err != nil {
		return false, fmt.Errorf("sessions: rotate refresh: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListLive lists live sessions ordered by most recent activity.
func (r *PGRepository) ListLive(ctx context.Context, userID int64, now time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM user_sessions
WHERE user_id = $1 AND is_active AND expires_at > $2
ORDER BY last_activity DESC, id ASC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	return out, nil
}

// Deactivate marks the session inactive when it belongs to userID. It
// reports false when no such session exists for that user.
func (r *PGRepository) Deactivate(ctx context.Context, userID int64, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE id = $1 AND user_id = $2 AND is_active`, id, userID)
	if err != nil {
		return false, fmt.Errorf("sessions: deactivate: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateOthers deactivates every live session of userID except keepID.
func (r *PGRepository) DeactivateOthers(ctx context.Context, userID int64, keepID string, now time.Time) ([]string, error) {
	return r.deactivateIDs(ctx, `UPDATE user_sessions SET is_active = FALSE
WHERE user_id = $1 AND id <> $2 AND is_active AND expires_at > $3 RETURNING id`, userID, keepID, now)
}

// DeactivateAll deactivates every active session of userID.
func (r *PGRepository) DeactivateAll(ctx context.Context, userID int64) ([]string, error) {
	return r.deactivateIDs(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active RETURNING id`, userID)
}

func (r *PGRepository) deactivateIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: deactivate: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sessions: deactivate: %w", err)
	}
	return ids, nil
}

// Sweep deletes expired rows and inactive rows idle longer than retention.
// Both deletes are pure predicates, so concurrent or repeated sweeps are safe.
func (r *PGRepository) Sweep(ctx context.Context, now time.Time, retention time.Duration) (SweepResult, error) {
	var res SweepResult
	err := r.pool.QueryRow(ctx, `WITH expired AS (
	DELETE FROM user_sessions WHERE expires_at < $1 RETURNING 1
), stale AS (
	DELETE FROM user_sessions WHERE NOT is_active AND last_activity < $2 AND expires_at >= $1 RETURNING 1
)
SELECT (SELECT COUNT(*) FROM expired), (SELECT COUNT(*) FROM stale)`, now, now.Add(-retention)).Scan(&res.Expired, &res.Inactive)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sessions: sweep: %w", err)
	}
	return res, nil
}

// GetLimit returns the stored limit, or false when the user has none.
func (r *PGRepository) GetLimit(ctx context.Context, userID int64) (int, bool, error) {
	var limit int32
	err := r.pool.QueryRow(ctx, `SELECT max_sessions FROM user_session_limits WHERE user_id = $1`, userID).Scan(&limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sessions: get limit: %w", err)
	}
	return int(limit), true, nil
}

// UpsertLimit stores the limit and returns the previous row, if any.
func (r *PGRepository) UpsertLimit(ctx context.Context, userID int64, maxSessions int) (int, bool, error) {
	var previous pgtype.Int4
	err := r.pool.QueryRow(ctx, `WITH old AS (
	SELECT max_sessions FROM user_session_limits WHERE user_id = $1
), upsert AS (
	INSERT INTO user_session_limits (user_id, max_sessions, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (user_id) DO UPDATE SET max_sessions = EXCLUDED.max_sessions, updated_at = NOW()
	RETURNING user_id
)
SELECT (SELECT max_sessions FROM old) FROM upsert`, userID, int32(maxSessions)).Scan(&previous)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, false, ErrUserNotFound
		}
		return 0, false, fmt.Errorf("sessions: upsert limit: %w", err)
	}
	return int(previous.Int32), previous.Valid, nil
}

func scanSession(row pgx.CollectableRow) (Session, error) {
	var s Session
	var ip, location pgtype.Text
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceType, &s.Browser, &s.OS,
		&ip, &location, &s.IsActive, &s.LastActivity, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	s.IP = ip.String
	s.Location = location.String
	s.LastActivity = s.LastActivity.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func optionalText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func lockKey(userID int64) int32 {
	return int32(userID % math.MaxInt32)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ Repository = (*PGRepository)(nil)
