package models

import (
	"time"
)

// ReminderStatus enumerates delivery lifecycle states. A cancelled reminder
// is never resurrected.
const (
	ReminderScheduled = "scheduled"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
	ReminderFailed    = "failed"
)

// Reminder kinds produced per pipeline stage.
const (
	ReminderStageDeadline   = "stage_deadline"
	ReminderFollowUp        = "follow_up"
	ReminderInterview       = "interview"
	ReminderDocumentRequest = "document_request"
)

// ReminderSchedule is a scheduled side effect of a stage advance or a
// completed acceptance.
type ReminderSchedule struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	StageName     string    `json:"stage_name"`
	ReminderType  string    `json:"reminder_type"`
	ScheduledFor  time.Time `json:"scheduled_for"`
	Recipient     string    `json:"recipient"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retry_count"`
	LastError     *string   `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
