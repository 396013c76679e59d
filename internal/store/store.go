// Package store defines the persistence ports consumed by the acceptance
// pipeline and the adapters behind them. The core never assumes transactional
// semantics from the backend; atomicity comes from saga compensation.
package store

import (
	"context"
	"errors"
	"time"

	"offer-pipeline/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic-concurrency
	// precondition fails on update.
	ErrVersionConflict = errors.New("application version conflict")
)

// ApplicationUpdate is a partial update applied to one application.
// Nil fields are left untouched. ExpectedVersion, when set, must match the
// stored Version or the update is rejected with ErrVersionConflict.
type ApplicationUpdate struct {
	Status            *string
	ExclusivityStatus *string
	AcceptanceHistory *[]models.AcceptanceRecord
	ExpectedVersion   *int
}

// ApplicationStore is the narrow contract the saga mutates applications through.
type ApplicationStore interface {
	GetApplications(ctx context.Context, candidateID string) ([]models.Application, error)
	GetApplication(ctx context.Context, id string) (models.Application, error)
	UpdateApplication(ctx context.Context, id string, update ApplicationUpdate) error
	CreateTrackingEntry(ctx context.Context, appID string, event models.TrackingEvent) error
	GetTrackingHistory(ctx context.Context, appID string) ([]models.TrackingEvent, error)
	// FindApplicationByAcceptance resolves the application whose acceptance
	// history contains the given record. Used by the operator rollback path.
	FindApplicationByAcceptance(ctx context.Context, acceptanceID string) (models.Application, error)
}

// AuditQuery filters audit entries. Zero values mean "no filter".
type AuditQuery struct {
	ApplicationID string
	EventTypes    []string
	UserID        string
	From          time.Time
	To            time.Time
	Offset        int
	Limit         int
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	AppendEntry(ctx context.Context, entry models.AuditEntry) error
	// ListByApplication returns the application's entries newest first.
	ListByApplication(ctx context.Context, appID string) ([]models.AuditEntry, error)
	// SearchEntries applies the query and returns the page plus the total
	// match count before pagination.
	SearchEntries(ctx context.Context, q AuditQuery) ([]models.AuditEntry, int, error)
}

// ReminderStore persists reminder schedules.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r models.ReminderSchedule) error
	GetReminder(ctx context.Context, id string) (models.ReminderSchedule, error)
	UpdateReminder(ctx context.Context, r models.ReminderSchedule) error
	ListRemindersByApplication(ctx context.Context, appID string) ([]models.ReminderSchedule, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
