// Package audit maintains the append-only audit trail for applications:
// a longer-retention mirror of selected tracking events with its own query,
// integrity-verification, and export surface.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"offer-pipeline/internal/event"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/store"
	"offer-pipeline/internal/telemetry"
)

// AlertSink receives real-time alerts for critical audit events.
type AlertSink interface {
	Alert(ctx context.Context, entry models.AuditEntry)
}

// LogAlertSink writes alerts to the process log. Production deployments plug
// in a pager or chat integration instead.
type LogAlertSink struct{}

func (LogAlertSink) Alert(_ context.Context, entry models.AuditEntry) {
	log.Printf("CRITICAL audit event %s on application %s: %s", entry.EventType, entry.ApplicationID, entry.Reason)
}

// Service is the audit log facade.
type Service struct {
	entries  store.AuditStore
	apps     store.ApplicationStore
	critical map[string]bool
	alerts   AlertSink
	exporter *Exporter
}

// New builds the service. criticalTypes is policy configuration: entries of
// these event types are flagged and pushed to the alert sink.
func New(entries store.AuditStore, apps store.ApplicationStore, criticalTypes []string, alerts AlertSink, exporter *Exporter) *Service {
	critical := make(map[string]bool, len(criticalTypes))
	for _, t := range criticalTypes {
		critical[t] = true
	}
	if alerts == nil {
		alerts = LogAlertSink{}
	}
	return &Service{
		entries:  entries,
		apps:     apps,
		critical: critical,
		alerts:   alerts,
		exporter: exporter,
	}
}

// OfferAcceptanceData is the payload recorded when an offer is accepted.
type OfferAcceptanceData struct {
	ApplicationID string
	AcceptanceID  string
	OfferID       string
	AcceptedBy    string
	Terms         map[string]any
}

// LogOfferAcceptance appends the offer_accepted audit entry.
func (s *Service) LogOfferAcceptance(ctx context.Context, data OfferAcceptanceData) error {
	return s.append(ctx, models.AuditEntry{
		ID:            uuid.New().String(),
		ApplicationID: data.ApplicationID,
		EventType:     models.EventOfferAccepted,
		Timestamp:     time.Now().UTC(),
		UserID:        data.AcceptedBy,
		PreviousState: models.StatusOfferPending,
		NewState:      models.StatusOfferAccepted,
		Reason:        "offer accepted by candidate",
		Details: map[string]any{
			"acceptance_id": data.AcceptanceID,
			"offer_id":      data.OfferID,
			"terms":         data.Terms,
		},
	})
}

// LogStateChange appends a state_changed audit entry.
func (s *Service) LogStateChange(ctx context.Context, appID, from, to, reason string) error {
	return s.append(ctx, models.AuditEntry{
		ID:            uuid.New().String(),
		ApplicationID: appID,
		EventType:     models.EventStateChanged,
		Timestamp:     time.Now().UTC(),
		PreviousState: from,
		NewState:      to,
		Reason:        reason,
	})
}

func (s *Service) append(ctx context.Context, entry models.AuditEntry) error {
	entry.Critical = s.critical[entry.EventType]
	if err := s.entries.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	telemetry.AuditEntriesWritten.Inc()
	if entry.Critical {
		telemetry.CriticalAlerts.Inc()
		s.alerts.Alert(ctx, entry)
	}
	return nil
}

// GetAuditTrail returns the application's entries, newest first.
func (s *Service) GetAuditTrail(ctx context.Context, appID string) ([]models.AuditEntry, error) {
	return s.entries.ListByApplication(ctx, appID)
}

// SearchResult is one page of audit entries plus the total match count.
type SearchResult struct {
	Entries []models.AuditEntry `json:"entries"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
}

// SearchAuditEntries filters the trail with offset/limit pagination.
func (s *Service) SearchAuditEntries(ctx context.Context, q store.AuditQuery) (SearchResult, error) {
	entries, total, err := s.entries.SearchEntries(ctx, q)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Entries: entries, Total: total, Offset: q.Offset, Limit: q.Limit}, nil
}

// Summary aggregates the trail for observability.
type Summary struct {
	TotalEntries   int                 `json:"total_entries"`
	CountsByType   map[string]int      `json:"counts_by_type"`
	CountsByUser   map[string]int      `json:"counts_by_user"`
	FirstTimestamp *time.Time          `json:"first_timestamp,omitempty"`
	LastTimestamp  *time.Time          `json:"last_timestamp,omitempty"`
	CriticalEvents []models.AuditEntry `json:"critical_events,omitempty"`
}

// GetAuditSummary aggregates counts by event type and user plus the critical
// event list. An empty appID summarizes the whole trail.
func (s *Service) GetAuditSummary(ctx context.Context, appID string) (Summary, error) {
	entries, _, err := s.entries.SearchEntries(ctx, store.AuditQuery{ApplicationID: appID})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		TotalEntries: len(entries),
		CountsByType: map[string]int{},
		CountsByUser: map[string]int{},
	}
	for _, e := range entries {
		summary.CountsByType[e.EventType]++
		if e.UserID != "" {
			summary.CountsByUser[e.UserID]++
		}
		ts := e.Timestamp
		if summary.FirstTimestamp == nil || ts.Before(*summary.FirstTimestamp) {
			t := ts
			summary.FirstTimestamp = &t
		}
		if summary.LastTimestamp == nil || ts.After(*summary.LastTimestamp) {
			t := ts
			summary.LastTimestamp = &t
		}
		if e.Critical {
			summary.CriticalEvents = append(summary.CriticalEvents, e)
		}
	}
	return summary, nil
}

// HandleOfferAccepted subscribes the audit log to the post-commit bus.
func (s *Service) HandleOfferAccepted(ctx context.Context, ev event.Event) error {
	terms, _ := ev.Payload["accepted_terms"].(map[string]any)
	acceptedBy, _ := ev.Payload["accepted_by"].(string)
	offerID, _ := ev.Payload["offer_id"].(string)
	return s.LogOfferAcceptance(ctx, OfferAcceptanceData{
		ApplicationID: ev.ApplicationID,
		AcceptanceID:  ev.AcceptanceID,
		OfferID:       offerID,
		AcceptedBy:    acceptedBy,
		Terms:         terms,
	})
}

// HandleStateChanged records state transitions published on the bus.
func (s *Service) HandleStateChanged(ctx context.Context, ev event.Event) error {
	reason, _ := ev.Payload["reason"].(string)
	return s.LogStateChange(ctx, ev.ApplicationID, ev.PreviousState, ev.NewState, reason)
}

// HandleAcceptanceRolledBack records the operator reversal.
func (s *Service) HandleAcceptanceRolledBack(ctx context.Context, ev event.Event) error {
	return s.LogStateChange(ctx, ev.ApplicationID, ev.PreviousState, ev.NewState,
		fmt.Sprintf("acceptance %s rolled back by operator", ev.AcceptanceID))
}
