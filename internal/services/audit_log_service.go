package services

import (
	"database/sql"

	"github.com/kantinpay/backend/internal/models"
)

// AuditLogService reads the append-only reversal log. There is deliberately
// no write path here: audit rows are inserted by the reversal service inside
// the same transaction as the reversal itself.
type AuditLogService struct {
	db *sql.DB
}

func NewAuditLogService(db *sql.DB) *AuditLogService {
	return &AuditLogService{db: db}
}

// List returns audit entries newest-first.
func (s *AuditLogService) List(limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, occurred_at, actor, reason, original_ref, snapshot
		FROM audit_log
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list audit log", Err: err}
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var entry models.AuditLogEntry
		if err := rows.Scan(&entry.ID, &entry.OccurredAt, &entry.Actor,
			&entry.Reason, &entry.OriginalRef, &entry.Snapshot); err != nil {
			return nil, &StorageError{Op: "scan audit log", Err: err}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns one audit entry by original reference, for inspecting what a
// reversal undid.
func (s *AuditLogService) Get(originalRef string) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	err := s.db.QueryRow(`
		SELECT id, occurred_at, actor, reason, original_ref, snapshot
		FROM audit_log
		WHERE original_ref = $1
		ORDER BY occurred_at DESC
		LIMIT 1`, originalRef).Scan(
		&entry.ID, &entry.OccurredAt, &entry.Actor,
		&entry.Reason, &entry.OriginalRef, &entry.Snapshot)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "audit log entry", Ref: originalRef}
	}
	if err != nil {
		return nil, &StorageError{Op: "fetch audit log entry", Err: err}
	}
	return &entry, nil
}
