package models

import "time"

// HealthReport is the result of the post-apply probe: database reachability
// and schema version, core files, session round-trip, storage writability.
type HealthReport struct {
	OK        bool      `json:"ok"`
	Errors    []string  `json:"errors"`
	CheckedAt time.Time `json:"checkedAt"`
}

// UpdateStatus is the applier's externally visible state.
type UpdateStatus struct {
	State   string         `json:"state"` // idle | downloading | validating | pending_confirmation | backing_up | applying | verifying
	Pending *PendingUpdate `json:"pending,omitempty"`
}
