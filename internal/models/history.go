package models

import "time"

// History actions.
const (
	ActionUpdate   = "update"
	ActionRollback = "rollback"
	ActionBackup   = "backup"
)

// UpdateHistoryEntry is one append-only audit record. Every backup, update
// and rollback attempt produces exactly one entry, failures included.
type UpdateHistoryEntry struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Action    string    `json:"action"` // update | rollback | backup
	Version   string    `json:"version"`
	Success   bool      `json:"success"`
	Changelog []string  `json:"changelog"`
	Messages  []string  `json:"messages"`
	Errors    []string  `json:"errors"`
	BackupID  *string   `json:"backupId,omitempty"`
	UserID    *string   `json:"userId,omitempty"`
}
