package models

// Terminal states of an apply or rollback attempt.
const (
	OutcomeApplied       = "applied"
	OutcomeRolledBack    = "rolled_back"
	OutcomeUnrecoverable = "unrecoverable"
)

// UpdateOutcome summarizes how a maintenance operation ended. Unrecoverable
// outcomes carry the backup id the admin must restore from manually.
type UpdateOutcome struct {
	Status   string   `json:"status"` // applied | rolled_back | unrecoverable
	Version  string   `json:"version,omitempty"`
	BackupID string   `json:"backupId,omitempty"`
	Messages []string `json:"messages,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}
