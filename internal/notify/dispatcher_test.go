package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"offer-pipeline/internal/models"
)

// scriptedChannel fails the first failures sends, then succeeds.
type scriptedChannel struct {
	failures int
	calls    []string
	channels []string
}

func (c *scriptedChannel) Send(_ context.Context, recipientID, channel string, _ Template) SendResult {
	c.calls = append(c.calls, recipientID)
	c.channels = append(c.channels, channel)
	if len(c.calls) <= c.failures {
		return SendResult{Status: StatusFailed, Error: "provider unavailable"}
	}
	return SendResult{Status: StatusSent}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	ch := &scriptedChannel{failures: 2}
	d := NewDispatcher(ch, 3, time.Millisecond, 0)

	res := d.SendOfferAcceptanceNotification(context.Background(), Request{
		RecipientID:   "cand-1",
		RecipientType: RecipientCandidate,
		ApplicationID: "app-1",
	})

	if res.Status != StatusSent {
		t.Fatalf("expected sent after retries, got %+v", res)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Channel != ChannelEmail {
		t.Fatalf("candidate should get email, got %s", res.Channel)
	}
}

func TestSendFailsAfterRetryBudget(t *testing.T) {
	ch := &scriptedChannel{failures: 10}
	d := NewDispatcher(ch, 3, time.Millisecond, 0)

	res := d.SendStatusChangeNotification(context.Background(), Request{
		RecipientID:   "rec-1",
		RecipientType: RecipientRecruiter,
		ApplicationID: "app-1",
		OldStatus:     models.StatusActive,
		NewStatus:     models.StatusScreening,
	})

	if res.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", res.Attempts)
	}
	if res.Error == "" {
		t.Fatalf("expected delivery error to surface")
	}
	if res.Channel != ChannelPush {
		t.Fatalf("recruiter should get push, got %s", res.Channel)
	}
}

func TestSendStopsRetryingOnFirstSuccess(t *testing.T) {
	ch := &scriptedChannel{}
	d := NewDispatcher(ch, 3, time.Millisecond, 0)

	res := d.SendOfferAcceptanceNotification(context.Background(), Request{
		RecipientID:   "cand-1",
		RecipientType: RecipientCandidate,
	})
	if res.Attempts != 1 || len(ch.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d attempts, %d calls", res.Attempts, len(ch.calls))
	}
}

func TestBulkFailuresAreIndependent(t *testing.T) {
	// Fail every send for the first recipient only.
	ch := &recipientFailChannel{failFor: "cand-bad"}
	d := NewDispatcher(ch, 2, time.Millisecond, time.Millisecond)

	results := d.SendBulkNotifications(context.Background(), []Request{
		{RecipientID: "cand-bad", RecipientType: RecipientCandidate, EventType: models.EventStateChanged},
		{RecipientID: "cand-ok", RecipientType: RecipientCandidate, EventType: models.EventStateChanged},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusFailed {
		t.Fatalf("first request should fail, got %+v", results[0])
	}
	if results[1].Status != StatusSent {
		t.Fatalf("second request should still send, got %+v", results[1])
	}
}

type recipientFailChannel struct {
	failFor string
}

func (c *recipientFailChannel) Send(_ context.Context, recipientID, _ string, _ Template) SendResult {
	if recipientID == c.failFor {
		return SendResult{Status: StatusFailed, Error: "bounced"}
	}
	return SendResult{Status: StatusSent}
}

func TestChannelPreferenceFallsBackToEmail(t *testing.T) {
	ch := &scriptedChannel{}
	d := NewDispatcher(ch, 1, 0, 0)

	d.SendStatusChangeNotification(context.Background(), Request{
		RecipientID:   "ext-1",
		RecipientType: "external_auditor",
	})
	if len(ch.channels) != 1 || ch.channels[0] != ChannelEmail {
		t.Fatalf("unknown recipient type should fall back to email, got %v", ch.channels)
	}
}

func TestTemplateSelection(t *testing.T) {
	tests := []struct {
		name          string
		recipientType string
		eventType     string
		wantSubject   string
	}{
		{"candidate acceptance", RecipientCandidate, models.EventOfferAccepted, "Your offer acceptance is confirmed"},
		{"recruiter acceptance", RecipientRecruiter, models.EventOfferAccepted, "Candidate accepted the offer"},
		{"state change", RecipientCandidate, models.EventStateChanged, "Application moved to screening"},
		{"withdrawal", RecipientCandidate, models.EventApplicationWithdrawn, "Application withdrawn"},
		{"unknown event", RecipientCandidate, "custom_event", "Application update"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := TemplateFor(tc.recipientType, tc.eventType, models.StatusActive, models.StatusScreening)
			if tmpl.Subject != tc.wantSubject {
				t.Fatalf("subject %q, want %q", tmpl.Subject, tc.wantSubject)
			}
			if tmpl.Body == "" {
				t.Fatalf("empty body for %s/%s", tc.recipientType, tc.eventType)
			}
		})
	}
}

func TestStateChangeBodyNamesBothStatuses(t *testing.T) {
	tmpl := TemplateFor(RecipientRecruiter, models.EventStateChanged, models.StatusFinalist, models.StatusOfferPending)
	if !strings.Contains(tmpl.Body, models.StatusFinalist) || !strings.Contains(tmpl.Body, models.StatusOfferPending) {
		t.Fatalf("body should mention both statuses: %q", tmpl.Body)
	}
}
