package models

import (
	"encoding/json"
	"time"
)

// AuditLogEntry records a reversal. The snapshot holds a serialized copy of
// the undone transaction or ledger entry. Rows are append-only and are
// written in the same database transaction as the reversal itself.
type AuditLogEntry struct {
	ID          int64           `json:"id" db:"id"`
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`
	Actor       string          `json:"actor" db:"actor"`
	Reason      string          `json:"reason" db:"reason"`
	OriginalRef string          `json:"original_ref" db:"original_ref"`
	Snapshot    json.RawMessage `json:"snapshot" db:"snapshot"`
}
