package models

import (
	"time"
)

// AuditEntry mirrors selected tracking events into an independently retained
// trail with its own query surface. Entries are created once and never mutated.
type AuditEntry struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id,omitempty"`
	PreviousState string         `json:"previous_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Critical      bool           `json:"critical"`
}
