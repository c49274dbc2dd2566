package request

import "time"

// AuditEntry is one append-only record of a mutating operation. Every
// controller operation writes exactly one entry in the same transaction
// as its data change.
type AuditEntry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      AuditKind `gorm:"index" json:"kind"`
	Actor     string    `gorm:"index" json:"actor"`
	Workspace string    `gorm:"index" json:"workspace,omitempty"`
	RequestID string    `gorm:"index" json:"request_id,omitempty"`
	Path      string    `json:"path,omitempty"`

	// Extra carries operation-specific detail (group name, vote choice,
	// old and new values).
	Extra map[string]string `gorm:"serializer:json" json:"extra,omitempty"`

	// Hidden entries are kept for the record but excluded from the
	// request activity panels (workspace browsing noise).
	Hidden bool `json:"hidden,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
