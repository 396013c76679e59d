package models

import (
	"time"
)

// ApplicationStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusDraft               = "draft"
	StatusActive              = "active"
	StatusScreening           = "screening"
	StatusInterviewScheduled  = "interview_scheduled"
	StatusInterviewCompleted  = "interview_completed"
	StatusTechnicalEvaluation = "technical_evaluation"
	StatusReferenceCheck      = "reference_check"
	StatusFinalist            = "finalist"
	StatusBackgroundCheck     = "background_check"
	StatusOfferPending        = "offer_pending"
	StatusOfferNegotiating    = "offer_negotiating"
	StatusOfferAccepted       = "offer_accepted"
	StatusOfferDeclined       = "offer_declined"
	StatusOfferExpired        = "offer_expired"
	StatusWithdrawn           = "withdrawn"
	StatusRejected            = "rejected"
	StatusHired               = "hired"
	StatusArchived            = "archived"
)

// Exclusivity states. A candidate may hold at most one exclusive application.
const (
	ExclusivityNone      = "none"
	ExclusivityExclusive = "exclusive"
	ExclusivityWithdrawn = "withdrawn"
)

// withdrawableStatuses are the active-pursuit states forced to withdrawn
// when the candidate accepts a competing offer.
var withdrawableStatuses = map[string]bool{
	StatusActive:              true,
	StatusScreening:           true,
	StatusInterviewScheduled:  true,
	StatusInterviewCompleted:  true,
	StatusTechnicalEvaluation: true,
	StatusReferenceCheck:      true,
	StatusFinalist:            true,
	StatusBackgroundCheck:     true,
	StatusOfferPending:        true,
	StatusOfferNegotiating:    true,
}

// IsWithdrawable reports whether status belongs to the withdrawable set.
func IsWithdrawable(status string) bool {
	return withdrawableStatuses[status]
}

// OfferDetails carries the offer attached to an application while it is pending.
type OfferDetails struct {
	OfferID   string         `json:"offer_id"`
	Terms     map[string]any `json:"terms"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// AcceptanceRecord is an immutable snapshot created once per accepted offer.
type AcceptanceRecord struct {
	ID             string         `json:"id"`
	OfferID        string         `json:"offer_id"`
	AcceptedTerms  map[string]any `json:"accepted_terms"`
	Timestamp      time.Time      `json:"timestamp"`
	CandidateNotes string         `json:"candidate_notes,omitempty"`
	Status         string         `json:"status"` // active, superseded, cancelled
}

// AcceptanceRecord lifecycle states.
const (
	AcceptanceActive     = "active"
	AcceptanceSuperseded = "superseded"
	AcceptanceCancelled  = "cancelled"
)

// Application is a candidate's pursuit of one job requisition.
// Applications are never deleted, only state-transitioned.
type Application struct {
	ID                string             `json:"id"`
	CandidateID       string             `json:"candidate_id"`
	JobID             string             `json:"job_id"`
	Status            string             `json:"status"`
	ExclusivityStatus string             `json:"exclusivity_status"`
	OfferDetails      *OfferDetails      `json:"offer_details,omitempty"`
	AcceptanceHistory []AcceptanceRecord `json:"acceptance_history,omitempty"`
	Version           int                `json:"version"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Actors recorded on tracking events.
const (
	TriggeredBySystem    = "system"
	TriggeredByUser      = "user"
	TriggeredByRecruiter = "recruiter"
)

// Tracking event types produced by the acceptance pipeline.
const (
	EventOfferAccepted        = "offer_accepted"
	EventApplicationWithdrawn = "application_withdrawn"
	EventStateChanged         = "state_changed"
	EventDataUpdated          = "data_updated"
	EventErrorOccurred        = "error_occurred"
)

// TrackingEvent is an immutable, append-only fact about one application.
type TrackingEvent struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Details       string         `json:"details,omitempty"`
	TriggeredBy   string         `json:"triggered_by"`
	PreviousState string         `json:"previous_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
