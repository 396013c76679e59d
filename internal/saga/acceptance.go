package saga

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"offer-pipeline/internal/event"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/store"
	"offer-pipeline/internal/telemetry"
)

// AcceptanceData carries the candidate's input when accepting an offer.
type AcceptanceData struct {
	AcceptedTerms  map[string]any `json:"accepted_terms"`
	CandidateNotes string         `json:"candidate_notes"`
	AcceptedBy     string         `json:"accepted_by"`
}

// ValidationResult is the outcome of the precondition check. Warnings do not
// block acceptance.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AcceptanceResult is the caller-facing outcome of AcceptProposal.
type AcceptanceResult struct {
	Success               bool     `json:"success"`
	AcceptanceID          string   `json:"acceptance_id,omitempty"`
	ApplicationID         string   `json:"application_id"`
	WithdrawnApplications []string `json:"withdrawn_applications,omitempty"`
	Errors                []string `json:"errors,omitempty"`
	Warnings              []string `json:"warnings,omitempty"`
}

// OfferAcceptance orchestrates the accept-offer transaction: validate
// preconditions, run the three compensable steps, then publish the
// post-commit event consumed by audit, reminders, and notifications.
type OfferAcceptance struct {
	store    store.ApplicationStore
	executor *Executor
	bus      *event.Bus

	// candidateLocks serializes concurrent acceptance attempts for the same
	// candidate; the store's version precondition backs it up across processes.
	mu             sync.Mutex
	candidateLocks map[string]*sync.Mutex
}

// NewOfferAcceptance wires the saga.
func NewOfferAcceptance(st store.ApplicationStore, ex *Executor, bus *event.Bus) *OfferAcceptance {
	return &OfferAcceptance{
		store:          st,
		executor:       ex,
		bus:            bus,
		candidateLocks: make(map[string]*sync.Mutex),
	}
}

func (s *OfferAcceptance) lockCandidate(candidateID string) func() {
	s.mu.Lock()
	lock, ok := s.candidateLocks[candidateID]
	if !ok {
		lock = &sync.Mutex{}
		s.candidateLocks[candidateID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// ValidateAcceptance checks every business precondition without mutating
// anything. It is also the first phase of AcceptProposal.
func (s *OfferAcceptance) ValidateAcceptance(ctx context.Context, proposalID, candidateID string) ValidationResult {
	result, _, _ := s.validate(ctx, proposalID, candidateID)
	return result
}

func (s *OfferAcceptance) validate(ctx context.Context, proposalID, candidateID string) (ValidationResult, models.Application, []models.Application) {
	var result ValidationResult

	app, err := s.store.GetApplication(ctx, proposalID)
	if err != nil || app.CandidateID != candidateID {
		result.Errors = append(result.Errors, fmt.Sprintf("proposal %s not found for candidate", proposalID))
		return result, models.Application{}, nil
	}

	if app.Status != models.StatusOfferPending {
		result.Errors = append(result.Errors, fmt.Sprintf("application status is %q, expected %q", app.Status, models.StatusOfferPending))
	}
	if app.OfferDetails == nil {
		result.Errors = append(result.Errors, "application carries no offer details")
	} else if app.OfferDetails.ExpiresAt.Before(time.Now()) {
		result.Errors = append(result.Errors, fmt.Sprintf("offer expired at %s", app.OfferDetails.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	siblings, err := s.store.GetApplications(ctx, candidateID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load candidate applications: %v", err))
		return result, app, nil
	}

	var competitors []models.Application
	for _, other := range siblings {
		if other.ID == app.ID {
			continue
		}
		if other.Status == models.StatusOfferAccepted {
			result.Errors = append(result.Errors, fmt.Sprintf("candidate already holds accepted offer on application %s", other.ID))
			continue
		}
		if models.IsWithdrawable(other.Status) {
			competitors = append(competitors, other)
			if other.Status == models.StatusOfferPending {
				result.Warnings = append(result.Warnings, fmt.Sprintf("application %s has a pending offer and will be withdrawn", other.ID))
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result, app, competitors
}

// AcceptProposal validates, runs the compensable transaction, and on success
// publishes the OfferAccepted event. Side-effect failures after commit never
// alter the result.
func (s *OfferAcceptance) AcceptProposal(ctx context.Context, proposalID, candidateID string, data AcceptanceData) AcceptanceResult {
	unlock := s.lockCandidate(candidateID)
	defer unlock()

	validation, app, competitors := s.validate(ctx, proposalID, candidateID)
	if !validation.IsValid {
		telemetry.ValidationRejects.Inc()
		return AcceptanceResult{
			Success:       false,
			ApplicationID: proposalID,
			Errors:        validation.Errors,
			Warnings:      validation.Warnings,
		}
	}

	acceptanceID := uuid.New().String()
	record := models.AcceptanceRecord{
		ID:             acceptanceID,
		OfferID:        app.OfferDetails.OfferID,
		AcceptedTerms:  data.AcceptedTerms,
		Timestamp:      time.Now().UTC(),
		CandidateNotes: data.CandidateNotes,
		Status:         models.AcceptanceActive,
	}

	withdrawn := make([]string, 0, len(competitors))
	steps := []Step{
		s.updateMainApplicationStep(app, record),
		s.withdrawOtherApplicationsStep(competitors, &withdrawn),
		s.createTrackingEventStep(app, record, data),
	}

	result := s.executor.Execute(ctx, "offer-acceptance:"+acceptanceID, steps)
	if !result.Success {
		telemetry.SagaFailures.Inc()
		return AcceptanceResult{
			Success:       false,
			ApplicationID: app.ID,
			Errors:        []string{result.Err.Error()},
			Warnings:      validation.Warnings,
		}
	}

	telemetry.SagaSuccess.Inc()
	s.bus.Publish(ctx, event.Event{
		Type:          event.TypeOfferAccepted,
		ApplicationID: app.ID,
		CandidateID:   candidateID,
		AcceptanceID:  acceptanceID,
		PreviousState: models.StatusOfferPending,
		NewState:      models.StatusOfferAccepted,
		Payload: map[string]any{
			"offer_id":        app.OfferDetails.OfferID,
			"accepted_terms":  data.AcceptedTerms,
			"candidate_notes": data.CandidateNotes,
			"accepted_by":     data.AcceptedBy,
			"withdrawn":       append([]string(nil), withdrawn...),
		},
	})

	return AcceptanceResult{
		Success:               true,
		AcceptanceID:          acceptanceID,
		ApplicationID:         app.ID,
		WithdrawnApplications: withdrawn,
		Warnings:              validation.Warnings,
	}
}

// updateMainApplicationStep flips the accepted application to
// offer_accepted/exclusive and appends the acceptance record. Its rollback
// restores the pre-acceptance snapshot.
func (s *OfferAcceptance) updateMainApplicationStep(app models.Application, record models.AcceptanceRecord) Step {
	priorHistory := append([]models.AcceptanceRecord(nil), app.AcceptanceHistory...)
	newHistory := append(append([]models.AcceptanceRecord(nil), priorHistory...), record)
	accepted := models.StatusOfferAccepted
	exclusive := models.ExclusivityExclusive
	pending := app.Status
	priorExclusivity := app.ExclusivityStatus
	expectedVersion := app.Version

	return Step{
		Name: "updateMainApplication",
		Execute: func(ctx context.Context) error {
			return s.store.UpdateApplication(ctx, app.ID, store.ApplicationUpdate{
				Status:            &accepted,
				ExclusivityStatus: &exclusive,
				AcceptanceHistory: &newHistory,
				ExpectedVersion:   &expectedVersion,
			})
		},
		Rollback: func(ctx context.Context) error {
			return s.store.UpdateApplication(ctx, app.ID, store.ApplicationUpdate{
				Status:            &pending,
				ExclusivityStatus: &priorExclusivity,
				AcceptanceHistory: &priorHistory,
			})
		},
	}
}

// withdrawOtherApplicationsStep enforces the exclusivity invariant by driving
// every competing active-pursuit application to withdrawn. Rollback restores
// the previous status of the applications it managed to withdraw; a restore
// that fails is reported and left for manual reconciliation.
func (s *OfferAcceptance) withdrawOtherApplicationsStep(competitors []models.Application, withdrawn *[]string) Step {
	priorStatus := make(map[string]string, len(competitors))
	priorExclusivity := make(map[string]string, len(competitors))

	return Step{
		Name: "withdrawOtherApplications",
		Execute: func(ctx context.Context) error {
			status := models.StatusWithdrawn
			exclusivity := models.ExclusivityWithdrawn
			for _, other := range competitors {
				priorStatus[other.ID] = other.Status
				priorExclusivity[other.ID] = other.ExclusivityStatus
				if err := s.store.UpdateApplication(ctx, other.ID, store.ApplicationUpdate{
					Status:            &status,
					ExclusivityStatus: &exclusivity,
				}); err != nil {
					return fmt.Errorf("withdraw application %s: %w", other.ID, err)
				}
				*withdrawn = append(*withdrawn, other.ID)
				ev := models.TrackingEvent{
					ID:            uuid.New().String(),
					ApplicationID: other.ID,
					EventType:     models.EventApplicationWithdrawn,
					Timestamp:     time.Now().UTC(),
					Details:       "withdrawn due to competing offer acceptance",
					TriggeredBy:   models.TriggeredBySystem,
					PreviousState: other.Status,
					NewState:      models.StatusWithdrawn,
				}
				if err := s.store.CreateTrackingEntry(ctx, other.ID, ev); err != nil {
					return fmt.Errorf("record withdrawal of %s: %w", other.ID, err)
				}
			}
			return nil
		},
		Rollback: func(ctx context.Context) error {
			var firstErr error
			for _, id := range *withdrawn {
				status := priorStatus[id]
				prior := priorExclusivity[id]
				err := s.store.UpdateApplication(ctx, id, store.ApplicationUpdate{
					Status:            &status,
					ExclusivityStatus: &prior,
				})
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("reinstate application %s: %w", id, err)
					}
					log.Printf("reinstate application %s failed: %v", id, err)
				}
			}
			return firstErr
		},
	}
}

// createTrackingEventStep appends the offer_accepted tracking event to the
// accepted application. Tracking events are append-only, so the rollback is
// a recorded no-op rather than a delete.
func (s *OfferAcceptance) createTrackingEventStep(app models.Application, record models.AcceptanceRecord, data AcceptanceData) Step {
	return Step{
		Name: "createTrackingEvent",
		Execute: func(ctx context.Context) error {
			ev := models.TrackingEvent{
				ID:            uuid.New().String(),
				ApplicationID: app.ID,
				EventType:     models.EventOfferAccepted,
				Timestamp:     time.Now().UTC(),
				Details:       data.CandidateNotes,
				TriggeredBy:   models.TriggeredByUser,
				PreviousState: models.StatusOfferPending,
				NewState:      models.StatusOfferAccepted,
				Metadata: map[string]any{
					"acceptance_id":  record.ID,
					"offer_id":       record.OfferID,
					"accepted_terms": record.AcceptedTerms,
				},
			}
			return s.store.CreateTrackingEntry(ctx, app.ID, ev)
		},
		Rollback: func(ctx context.Context) error {
			log.Printf("application %s: offer_accepted tracking event left in place after rollback", app.ID)
			return nil
		},
	}
}

// RollbackAcceptance is the operator-triggered reversal after the fact. It is
// independent from the automatic in-saga compensation: it cancels the
// acceptance record and reverts the application to offer_pending. Competing
// applications withdrawn during the original acceptance are not reinstated
// automatically.
func (s *OfferAcceptance) RollbackAcceptance(ctx context.Context, acceptanceID string) error {
	app, err := s.store.FindApplicationByAcceptance(ctx, acceptanceID)
	if err != nil {
		return fmt.Errorf("find acceptance %s: %w", acceptanceID, err)
	}

	history := append([]models.AcceptanceRecord(nil), app.AcceptanceHistory...)
	found := false
	for i := range history {
		if history[i].ID == acceptanceID {
			if history[i].Status == models.AcceptanceCancelled {
				return nil
			}
			history[i].Status = models.AcceptanceCancelled
			found = true
		}
	}
	if !found {
		return fmt.Errorf("find acceptance %s: %w", acceptanceID, store.ErrNotFound)
	}

	pending := models.StatusOfferPending
	none := models.ExclusivityNone
	if err := s.store.UpdateApplication(ctx, app.ID, store.ApplicationUpdate{
		Status:            &pending,
		ExclusivityStatus: &none,
		AcceptanceHistory: &history,
	}); err != nil {
		return fmt.Errorf("revert application %s: %w", app.ID, err)
	}

	s.bus.Publish(ctx, event.Event{
		Type:          event.TypeAcceptanceRolledBack,
		ApplicationID: app.ID,
		CandidateID:   app.CandidateID,
		AcceptanceID:  acceptanceID,
		PreviousState: models.StatusOfferAccepted,
		NewState:      models.StatusOfferPending,
	})
	return nil
}
