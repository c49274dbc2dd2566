package db

import (
	"context"

	"airlock.evalgo.org/request"
)

// AuditFilter narrows an audit log query. Zero-value fields match
// everything.
type AuditFilter struct {
	Actor     string
	Workspace string
	RequestID string
	// IncludeHidden also returns entries excluded from activity panels.
	IncludeHidden bool
}

// AppendAudit writes one audit entry. Call this inside the same
// transaction as the operation it records.
func (s *Store) AppendAudit(ctx context.Context, entry *request.AuditEntry) error {
	return translateErr(s.db.WithContext(ctx).Create(entry).Error)
}

// AuditLog returns matching entries, newest first.
func (s *Store) AuditLog(ctx context.Context, filter AuditFilter) ([]request.AuditEntry, error) {
	q := s.db.WithContext(ctx).Model(&request.AuditEntry{})
	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	if filter.Workspace != "" {
		q = q.Where("workspace = ?", filter.Workspace)
	}
	if filter.RequestID != "" {
		q = q.Where("request_id = ?", filter.RequestID)
	}
	if !filter.IncludeHidden {
		q = q.Where("hidden = ?", false)
	}

	var entries []request.AuditEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, translateErr(err)
	}
	return entries, nil
}
