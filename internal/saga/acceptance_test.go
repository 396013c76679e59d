package saga

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"offer-pipeline/internal/event"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/store"
)

func newTestSaga(mem *store.Memory) (*OfferAcceptance, *event.Bus) {
	bus := event.NewBus()
	ex := NewExecutor(time.Second, 1, time.Millisecond)
	return NewOfferAcceptance(mem, ex, bus), bus
}

func pendingOffer(id, candidateID string, expiresIn time.Duration) models.Application {
	return models.Application{
		ID:                id,
		CandidateID:       candidateID,
		JobID:             "job-" + id,
		Status:            models.StatusOfferPending,
		ExclusivityStatus: models.ExclusivityNone,
		OfferDetails: &models.OfferDetails{
			OfferID:   "offer-" + id,
			Terms:     map[string]any{"salary": 120000},
			ExpiresAt: time.Now().Add(expiresIn),
		},
	}
}

func TestAcceptProposalWithdrawsCompetitors(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(models.Application{
		ID: "B", CandidateID: "cand-1", JobID: "job-B",
		Status: models.StatusActive, ExclusivityStatus: models.ExclusivityNone,
	})

	s, bus := newTestSaga(mem)
	var published []event.Event
	bus.Subscribe(event.TypeOfferAccepted, "capture", func(_ context.Context, ev event.Event) error {
		published = append(published, ev)
		return nil
	})

	result := s.AcceptProposal(ctx, "A", "cand-1", AcceptanceData{
		AcceptedTerms:  map[string]any{"salary": 125000},
		CandidateNotes: "looking forward to it",
	})

	if !result.Success {
		t.Fatalf("expected success, got errors %v", result.Errors)
	}
	if result.AcceptanceID == "" {
		t.Fatalf("expected an acceptance id")
	}

	a, _ := mem.GetApplication(ctx, "A")
	if a.Status != models.StatusOfferAccepted || a.ExclusivityStatus != models.ExclusivityExclusive {
		t.Fatalf("accepted application in wrong state: %s/%s", a.Status, a.ExclusivityStatus)
	}
	if len(a.AcceptanceHistory) != 1 || a.AcceptanceHistory[0].Status != models.AcceptanceActive {
		t.Fatalf("expected one active acceptance record, got %v", a.AcceptanceHistory)
	}

	b, _ := mem.GetApplication(ctx, "B")
	if b.Status != models.StatusWithdrawn || b.ExclusivityStatus != models.ExclusivityWithdrawn {
		t.Fatalf("competitor not withdrawn: %s/%s", b.Status, b.ExclusivityStatus)
	}

	events, _ := mem.GetTrackingHistory(ctx, "B")
	if len(events) != 1 || events[0].EventType != models.EventApplicationWithdrawn || events[0].TriggeredBy != models.TriggeredBySystem {
		t.Fatalf("expected system-triggered withdrawal event, got %v", events)
	}

	if len(published) != 1 || published[0].AcceptanceID != result.AcceptanceID {
		t.Fatalf("expected one OfferAccepted event, got %v", published)
	}
}

func TestAcceptProposalExclusivityInvariant(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(pendingOffer("B", "cand-1", time.Hour))

	s, _ := newTestSaga(mem)
	if res := s.AcceptProposal(ctx, "A", "cand-1", AcceptanceData{}); !res.Success {
		t.Fatalf("first acceptance should succeed: %v", res.Errors)
	}

	exclusive := 0
	apps, _ := mem.GetApplications(ctx, "cand-1")
	for _, app := range apps {
		if app.ExclusivityStatus == models.ExclusivityExclusive {
			exclusive++
		}
	}
	if exclusive != 1 {
		t.Fatalf("expected exactly one exclusive application, got %d", exclusive)
	}
}

func TestAcceptProposalRestoresStateWhenWithdrawalFails(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(models.Application{
		ID: "B", CandidateID: "cand-1", JobID: "job-B",
		Status: models.StatusActive, ExclusivityStatus: models.ExclusivityNone,
	})
	mem.FailUpdateFor["B"] = errors.New("store unavailable")

	s, _ := newTestSaga(mem)
	result := s.AcceptProposal(ctx, "A", "cand-1", AcceptanceData{})

	if result.Success {
		t.Fatalf("expected failure when withdrawal step fails")
	}

	a, _ := mem.GetApplication(ctx, "A")
	if a.Status != models.StatusOfferPending || a.ExclusivityStatus != models.ExclusivityNone {
		t.Fatalf("main application not restored: %s/%s", a.Status, a.ExclusivityStatus)
	}
	if len(a.AcceptanceHistory) != 0 {
		t.Fatalf("acceptance record not cleared: %v", a.AcceptanceHistory)
	}

	b, _ := mem.GetApplication(ctx, "B")
	if b.Status != models.StatusActive {
		t.Fatalf("competitor should be unchanged, got %s", b.Status)
	}
}

func TestAcceptProposalRestoresWithdrawnWhenTrackingFails(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(models.Application{
		ID: "B", CandidateID: "cand-1", JobID: "job-B",
		Status: models.StatusScreening, ExclusivityStatus: models.ExclusivityNone,
	})
	mem.FailTrackingFor["A"] = errors.New("tracking write failed")

	s, _ := newTestSaga(mem)
	result := s.AcceptProposal(ctx, "A", "cand-1", AcceptanceData{})

	if result.Success {
		t.Fatalf("expected failure when tracking step fails")
	}

	a, _ := mem.GetApplication(ctx, "A")
	if a.Status != models.StatusOfferPending {
		t.Fatalf("main application not restored, got %s", a.Status)
	}
	b, _ := mem.GetApplication(ctx, "B")
	if b.Status != models.StatusScreening {
		t.Fatalf("withdrawn competitor not reinstated, got %s", b.Status)
	}
}

func TestValidateAcceptanceRejectsExistingAcceptedOffer(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(models.Application{
		ID: "C", CandidateID: "cand-1", JobID: "job-C",
		Status: models.StatusOfferAccepted, ExclusivityStatus: models.ExclusivityExclusive,
	})

	s, _ := newTestSaga(mem)
	validation := s.ValidateAcceptance(ctx, "A", "cand-1")
	if validation.IsValid {
		t.Fatalf("expected validation failure")
	}
	found := false
	for _, msg := range validation.Errors {
		if strings.Contains(msg, "C") {
			found = true
		}
	}
	if !found {
		t.Fatalf("error should name the competing application: %v", validation.Errors)
	}

	// No mutation may have happened.
	a, _ := mem.GetApplication(ctx, "A")
	if a.Status != models.StatusOfferPending {
		t.Fatalf("validation must not mutate, got %s", a.Status)
	}
}

func TestValidateAcceptanceRejectsExpiredOffer(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", -time.Hour))

	s, _ := newTestSaga(mem)
	validation := s.ValidateAcceptance(ctx, "A", "cand-1")
	if validation.IsValid {
		t.Fatalf("expected expired offer to fail validation")
	}
}

func TestValidateAcceptanceRejectsUnknownProposal(t *testing.T) {
	mem := store.NewMemory()
	s, _ := newTestSaga(mem)
	validation := s.ValidateAcceptance(context.Background(), "missing", "cand-1")
	if validation.IsValid {
		t.Fatalf("expected unknown proposal to fail validation")
	}
}

func TestValidateAcceptanceWarnsAboutOtherPendingOffers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))
	mem.PutApplication(pendingOffer("B", "cand-1", time.Hour))

	s, _ := newTestSaga(mem)
	validation := s.ValidateAcceptance(ctx, "A", "cand-1")
	if !validation.IsValid {
		t.Fatalf("pending siblings must not block acceptance: %v", validation.Errors)
	}
	if len(validation.Warnings) == 0 {
		t.Fatalf("expected a warning about the sibling pending offer")
	}
}

func TestRollbackAcceptance(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutApplication(pendingOffer("A", "cand-1", time.Hour))

	s, _ := newTestSaga(mem)
	result := s.AcceptProposal(ctx, "A", "cand-1", AcceptanceData{})
	if !result.Success {
		t.Fatalf("setup acceptance failed: %v", result.Errors)
	}

	if err := s.RollbackAcceptance(ctx, result.AcceptanceID); err != nil {
		t.Fatalf("rollback acceptance: %v", err)
	}

	a, _ := mem.GetApplication(ctx, "A")
	if a.Status != models.StatusOfferPending || a.ExclusivityStatus != models.ExclusivityNone {
		t.Fatalf("application not reverted: %s/%s", a.Status, a.ExclusivityStatus)
	}
	if len(a.AcceptanceHistory) != 1 || a.AcceptanceHistory[0].Status != models.AcceptanceCancelled {
		t.Fatalf("acceptance record should be cancelled, got %v", a.AcceptanceHistory)
	}

	// Second rollback of the same acceptance is a no-op.
	if err := s.RollbackAcceptance(ctx, result.AcceptanceID); err != nil {
		t.Fatalf("repeated rollback should be a no-op: %v", err)
	}
}
