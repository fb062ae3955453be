package roles

import "time"

// Role represents a role for management.
type Role struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	PermissionCount int       `json:"permission_count"`
	UserCount       int       `json:"user_count"`
	CreatedAt       time.Time `json:"created_at"`
}
