package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions recorded by the access core.
const (
	AuditActionCreate = "CREATE"
	AuditActionUpdate = "UPDATE"
	AuditActionDelete = "DELETE"
	AuditActionLogin  = "LOGIN"
	AuditActionLogout = "LOGOUT"
	AuditActionEvict  = "EVICT"
	AuditActionClear  = "CLEAR"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID   int64
	Action    string
	Table     string
	RecordID  string
	OldValue  any
	NewValue  any
	IP        string
	UserAgent string
	At        time.Time
}

// Execer is the subset of pgxpool.Pool used for writes.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Table == "" || log.RecordID == "" {
		return errors.New("audit log requires action/table/record_id")
	}
	oldJSON, err := optionalJSON(log.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := optionalJSON(log.NewValue)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_user_id, action, table_name, record_id, old_value, new_value, ip, user_agent, created_at)
VALUES (NULLIF($1::bigint, 0), $2, $3, $4, $5, $6, NULLIF($7::text, ''), NULLIF($8::text, ''), COALESCE($9::timestamptz, NOW()))`,
		log.ActorID, log.Action, log.Table, log.RecordID, oldJSON, newJSON, strings.TrimSpace(log.IP), truncate(log.UserAgent, 512), at)
	return err
}

func optionalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
