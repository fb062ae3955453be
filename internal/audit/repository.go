package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository membaca dan menghapus audit_logs.
type Repository interface {
	List(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
	Clear(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listSQL = `SELECT id, COALESCE(actor_user_id, 0), action, table_name, record_id,
       old_value, new_value, COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR created_at >= $1)
  AND ($2::timestamptz IS NULL OR created_at < $2)
  AND ($3::bigint IS NULL OR actor_user_id = $3)
  AND ($4::text IS NULL OR table_name = $4)
  AND ($5::text IS NULL OR action = $5)
  AND ($6::text IS NULL OR record_id = $6)
ORDER BY created_at DESC, id DESC
OFFSET $7 LIMIT $8`

// List returns entries newest first.
func (r *PGRepository) List(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, listSQL,
		toPgTime(filters.From),
		toPgTime(filters.To),
		optionalInt8(filters.ActorID),
		optionalText(filters.Table),
		optionalText(strings.ToUpper(filters.Action)),
		optionalText(filters.RecordID),
		offset,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e              Entry
			oldVal, newVal []byte
		)
		if err := row.Scan(&e.ID, &e.ActorID, &e.Action, &e.Table, &e.RecordID, &oldVal, &newVal, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		if len(oldVal) > 0 {
			e.OldValue = json.RawMessage(oldVal)
		}
		if len(newVal) > 0 {
			e.NewValue = json.RawMessage(newVal)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}

// Clear deletes entries created before the cutoff. A zero cutoff deletes
// everything.
func (r *PGRepository) Clear(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE ($1::timestamptz IS NULL OR created_at < $1)`, toPgTime(before))
	if err != nil {
		return 0, fmt.Errorf("audit: clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalInt8(value int64) pgtype.Int8 {
	if value <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: value, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
