package audit

import (
	"encoding/json"
	"time"
)

// Filters menampung filter untuk daftar audit log.
type Filters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Table    string
	Action   string
	RecordID string
	Page     int
	PageSize int
}

// Entry mewakili satu baris audit_logs.
type Entry struct {
	ID        int64           `json:"id"`
	ActorID   int64           `json:"actor_user_id,omitempty"`
	Action    string          `json:"action"`
	Table     string          `json:"table"`
	RecordID  string          `json:"record_id"`
	OldValue  json.RawMessage `json:"old_value,omitempty"`
	NewValue  json.RawMessage `json:"new_value,omitempty"`
	IP        string          `json:"ip,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil daftar dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
