package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"offer-pipeline/internal/config"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/store"
)

type captureSink struct {
	entries []models.AuditEntry
}

func (c *captureSink) Alert(_ context.Context, entry models.AuditEntry) {
	c.entries = append(c.entries, entry)
}

func newTestService(t *testing.T) (*Service, *store.Memory, *captureSink) {
	t.Helper()
	mem := store.NewMemory()
	sink := &captureSink{}
	svc := New(mem, mem, []string{models.EventOfferAccepted, models.EventErrorOccurred}, sink, nil)
	return svc, mem, sink
}

func stateChange(id, appID, from, to string, at time.Time) models.AuditEntry {
	return models.AuditEntry{
		ID:            id,
		ApplicationID: appID,
		EventType:     models.EventStateChanged,
		Timestamp:     at,
		PreviousState: from,
		NewState:      to,
	}
}

func TestCriticalEntriesReachAlertSink(t *testing.T) {
	ctx := context.Background()
	svc, mem, sink := newTestService(t)

	err := svc.LogOfferAcceptance(ctx, OfferAcceptanceData{
		ApplicationID: "app-1",
		AcceptanceID:  "acc-1",
		OfferID:       "offer-1",
		AcceptedBy:    "cand-1",
	})
	if err != nil {
		t.Fatalf("log offer acceptance: %v", err)
	}
	if err := svc.LogStateChange(ctx, "app-1", models.StatusActive, models.StatusScreening, "recruiter review"); err != nil {
		t.Fatalf("log state change: %v", err)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected one alert, got %d", len(sink.entries))
	}
	if sink.entries[0].EventType != models.EventOfferAccepted || !sink.entries[0].Critical {
		t.Fatalf("alerted entry should be the critical acceptance, got %+v", sink.entries[0])
	}

	trail, err := mem.ListByApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("list trail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected two entries, got %d", len(trail))
	}
}

func TestSearchAuditEntriesPagination(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newTestService(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		entry := stateChange(fmt.Sprintf("entry-%d", i), "app-1", models.StatusActive, models.StatusScreening, base.Add(time.Duration(i)*time.Minute))
		if err := mem.AppendEntry(ctx, entry); err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}

	page, err := svc.SearchAuditEntries(ctx, store.AuditQuery{
		ApplicationID: "app-1",
		EventTypes:    []string{models.EventStateChanged},
		Offset:        2,
		Limit:         2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected total 5, got %d", page.Total)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page.Entries))
	}

	empty, err := svc.SearchAuditEntries(ctx, store.AuditQuery{ApplicationID: "app-1", UserID: "nobody"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if empty.Total != 0 || len(empty.Entries) != 0 {
		t.Fatalf("expected no matches, got %+v", empty)
	}
}

func TestGetAuditSummary(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if err := svc.LogOfferAcceptance(ctx, OfferAcceptanceData{ApplicationID: "app-1", AcceptedBy: "cand-1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.LogStateChange(ctx, "app-1", models.StatusActive, models.StatusScreening, "review"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := svc.GetAuditSummary(ctx, "app-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalEntries != 2 {
		t.Fatalf("expected 2 entries, got %d", summary.TotalEntries)
	}
	if summary.CountsByType[models.EventOfferAccepted] != 1 || summary.CountsByType[models.EventStateChanged] != 1 {
		t.Fatalf("wrong type counts: %v", summary.CountsByType)
	}
	if summary.CountsByUser["cand-1"] != 1 {
		t.Fatalf("wrong user counts: %v", summary.CountsByUser)
	}
	if len(summary.CriticalEvents) != 1 {
		t.Fatalf("expected one critical event, got %d", len(summary.CriticalEvents))
	}
	if summary.FirstTimestamp == nil || summary.LastTimestamp == nil {
		t.Fatalf("timestamps missing from summary")
	}
}

func TestVerifyAuditIntegrityCleanTrail(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newTestService(t)

	base := time.Now().UTC()
	mem.AppendEntry(ctx, stateChange("e1", "app-1", models.StatusActive, models.StatusScreening, base))
	mem.AppendEntry(ctx, stateChange("e2", "app-1", models.StatusScreening, models.StatusInterviewScheduled, base.Add(time.Minute)))

	report, err := svc.VerifyAuditIntegrity(ctx, "app-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsValid || len(report.Issues) != 0 {
		t.Fatalf("expected clean trail, got %+v", report.Issues)
	}
}

func TestVerifyAuditIntegrityBrokenChain(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newTestService(t)

	base := time.Now().UTC()
	mem.AppendEntry(ctx, stateChange("e1", "app-1", models.StatusActive, models.StatusScreening, base))
	// Gap: the next transition starts from a state the trail never reached.
	mem.AppendEntry(ctx, stateChange("e2", "app-1", models.StatusFinalist, models.StatusOfferPending, base.Add(time.Minute)))

	report, err := svc.VerifyAuditIntegrity(ctx, "app-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatalf("expected broken chain to be flagged")
	}
	if len(report.Issues) != 1 || report.Issues[0].Type != IssueInconsistentStates {
		t.Fatalf("expected one inconsistent_states issue, got %+v", report.Issues)
	}
	if report.Issues[0].EntryID != "e2" {
		t.Fatalf("issue should name the offending entry, got %q", report.Issues[0].EntryID)
	}
}

func TestVerifyAuditIntegrityDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newTestService(t)

	base := time.Now().UTC()
	mem.AppendEntry(ctx, stateChange("dup", "app-1", models.StatusActive, models.StatusScreening, base))
	mem.AppendEntry(ctx, stateChange("dup", "app-1", models.StatusScreening, models.StatusFinalist, base.Add(time.Minute)))

	report, err := svc.VerifyAuditIntegrity(ctx, "app-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueDuplicateEntry && issue.EntryID == "dup" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate_entry issue, got %+v", report.Issues)
	}
}

func TestVerifyAuditIntegrityMissingAcceptanceEntry(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newTestService(t)

	mem.PutApplication(models.Application{
		ID:          "app-1",
		CandidateID: "cand-1",
		Status:      models.StatusOfferAccepted,
	})

	report, err := svc.VerifyAuditIntegrity(ctx, "app-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatalf("expected missing offer_accepted entry to be flagged")
	}
	if len(report.Issues) != 1 || report.Issues[0].Type != IssueMissingEntry {
		t.Fatalf("expected one missing_entry issue, got %+v", report.Issues)
	}
}

func TestExportAuditTrailWritesDocument(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	dir := t.TempDir()

	exporter, err := NewExporter(ctx, config.Config{AuditExportDir: dir})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	svc := New(mem, mem, nil, nil, exporter)

	if err := svc.LogStateChange(ctx, "app-1", models.StatusActive, models.StatusScreening, "review"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := svc.ExportAuditTrail(ctx, "app-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Document.ApplicationID != "app-1" || len(result.Document.Entries) != 1 {
		t.Fatalf("unexpected document: %+v", result.Document)
	}

	data, err := os.ReadFile(result.Location)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("exported file is empty")
	}
	if filepath.Ext(result.Location) != ".json" {
		t.Fatalf("expected a json export, got %s", result.Location)
	}
}
