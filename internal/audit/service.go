// Package audit menyimpan dan menampilkan jejak audit perubahan hak akses dan
// sesi.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

// MaxExportRows membatasi jumlah baris ekspor CSV.
const MaxExportRows = 10000

// Port menerima entri audit setelah perubahan berhasil disimpan.
type Port interface {
	Emit(shared.AuditLog)
}

// Service mengoordinasikan pengambilan dan pembersihan audit log.
type Service struct {
	repo  Repository
	audit Port
}

// NewService membuat service audit baru.
func NewService(repo Repository, audit Port) *Service {
	return &Service{repo: repo, audit: audit}
}

// List mengambil audit log dengan paging.
func (s *Service) List(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	page, pageSize := shared.NormalizePage(filters.Page, filters.PageSize)
	offset := (page - 1) * pageSize
	rows, err := s.repo.List(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export mengambil audit log tanpa paging, dibatasi MaxExportRows.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.List(ctx, filters, 0, MaxExportRows)
}

// Clear menghapus audit log sebelum cutoff lalu mencatat tindakan itu
// sendiri sebagai entri baru.
func (s *Service) Clear(ctx context.Context, before time.Time) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	deleted, err := s.repo.Clear(ctx, before)
	if err != nil {
		return 0, err
	}
	scope := "all"
	if !before.IsZero() {
		scope = before.UTC().Format(time.RFC3339)
	}
	entry := shared.AuditLog{
		Action:   shared.AuditActionClear,
		Table:    "audit_logs",
		RecordID: scope,
		NewValue: map[string]any{"deleted": deleted},
	}
	if id, ok := shared.IdentityFromContext(ctx); ok {
		entry.ActorID = id.UserID
		entry.IP = id.IP
		entry.UserAgent = id.UserAgent
	}
	if s.audit != nil {
		s.audit.Emit(entry)
	}
	return deleted, nil
}
