package model

import (
	"encoding/json"
	"time"
)

// PendingChange is a domain-level record of a local mutation that must
// eventually reach the remote system of record.
//
// SyncedAt == nil means the change is pending. Synced entries are kept as a
// local audit trail.
type PendingChange struct {
	ID         int64           `json:"id"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	TS         time.Time       `json:"ts"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// Pending reports whether the change still awaits confirmation.
func (c PendingChange) Pending() bool {
	return c.SyncedAt == nil
}

// SyncBookkeeping is the singleton record of the last successful sync round.
type SyncBookkeeping struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}
