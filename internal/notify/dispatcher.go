// Package notify delivers best-effort notifications over pluggable channels
// with bounded retries. Delivery failures degrade silently after the retry
// budget; they never fail the business operation that triggered them.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"offer-pipeline/internal/event"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/retry"
	"offer-pipeline/internal/telemetry"
)

// Channel kinds.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelSMS   = "sms"
)

// Recipient types.
const (
	RecipientCandidate     = "candidate"
	RecipientRecruiter     = "recruiter"
	RecipientHiringManager = "hiring_manager"
)

// Delivery statuses reported by a channel.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// SendResult is a channel's verdict on one delivery attempt.
type SendResult struct {
	Status string
	Error  string
}

// Channel is the outbound delivery port.
type Channel interface {
	Send(ctx context.Context, recipientID, channel string, tmpl Template) SendResult
}

// LogChannel writes deliveries to the process log. It stands in for real
// providers in local development.
type LogChannel struct{}

func (LogChannel) Send(_ context.Context, recipientID, channel string, tmpl Template) SendResult {
	log.Printf("notify %s via %s: %s", recipientID, channel, tmpl.Subject)
	return SendResult{Status: StatusSent}
}

// Request describes one notification to deliver.
type Request struct {
	RecipientID   string `json:"recipient_id"`
	RecipientType string `json:"recipient_type"`
	EventType     string `json:"event_type"`
	ApplicationID string `json:"application_id"`
	OldStatus     string `json:"old_status,omitempty"`
	NewStatus     string `json:"new_status,omitempty"`
}

// Result captures the outcome of one request, including retries.
type Result struct {
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// Dispatcher routes requests to the channel preferred by the recipient type
// and retries failed sends with linear backoff.
type Dispatcher struct {
	channel   Channel
	policy    retry.Policy
	bulkDelay time.Duration
	prefs     map[string]string
}

// NewDispatcher builds a dispatcher. retryAttempts <= 0 defaults to 3.
func NewDispatcher(ch Channel, retryAttempts int, retryDelay, bulkDelay time.Duration) *Dispatcher {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	return &Dispatcher{
		channel:   ch,
		policy:    retry.Policy{MaxAttempts: retryAttempts, Backoff: retry.Linear(retryDelay)},
		bulkDelay: bulkDelay,
		prefs: map[string]string{
			RecipientCandidate:     ChannelEmail,
			RecipientRecruiter:     ChannelPush,
			RecipientHiringManager: ChannelEmail,
		},
	}
}

// channelFor picks the delivery channel from the recipient-type preference.
func (d *Dispatcher) channelFor(recipientType string) string {
	if ch, ok := d.prefs[recipientType]; ok {
		return ch
	}
	return ChannelEmail
}

// SendOfferAcceptanceNotification notifies one recipient that an offer was accepted.
func (d *Dispatcher) SendOfferAcceptanceNotification(ctx context.Context, req Request) Result {
	req.EventType = models.EventOfferAccepted
	return d.send(ctx, req)
}

// SendStatusChangeNotification notifies one recipient of a status transition.
func (d *Dispatcher) SendStatusChangeNotification(ctx context.Context, req Request) Result {
	req.EventType = models.EventStateChanged
	return d.send(ctx, req)
}

// SendBulkNotifications processes requests sequentially with a small delay
// between sends to stay under provider rate limits. One request's failure
// does not abort the batch.
func (d *Dispatcher) SendBulkNotifications(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, 0, len(reqs))
	for i, req := range reqs {
		if i > 0 && d.bulkDelay > 0 {
			timer := time.NewTimer(d.bulkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				results = append(results, Result{
					RecipientID: req.RecipientID,
					Status:      StatusFailed,
					Error:       ctx.Err().Error(),
				})
				continue
			case <-timer.C:
			}
		}
		results = append(results, d.send(ctx, req))
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, req Request) Result {
	channel := d.channelFor(req.RecipientType)
	tmpl := TemplateFor(req.RecipientType, req.EventType, req.OldStatus, req.NewStatus)

	attempts := 0
	err := d.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		res := d.channel.Send(ctx, req.RecipientID, channel, tmpl)
		if res.Status != StatusSent {
			return fmt.Errorf("delivery failed: %s", res.Error)
		}
		return nil
	})
	if err != nil {
		telemetry.NotificationsFailed.Inc()
		return Result{RecipientID: req.RecipientID, Channel: channel, Status: StatusFailed, Attempts: attempts, Error: err.Error()}
	}
	telemetry.NotificationsSent.Inc()
	return Result{RecipientID: req.RecipientID, Channel: channel, Status: StatusSent, Attempts: attempts}
}

// HandleOfferAccepted subscribes the dispatcher to the post-commit bus,
// notifying the candidate and the recruiter.
func (d *Dispatcher) HandleOfferAccepted(ctx context.Context, ev event.Event) error {
	reqs := []Request{
		{RecipientID: ev.CandidateID, RecipientType: RecipientCandidate, ApplicationID: ev.ApplicationID, OldStatus: ev.PreviousState, NewStatus: ev.NewState, EventType: models.EventOfferAccepted},
		{RecipientID: "recruiter:" + ev.ApplicationID, RecipientType: RecipientRecruiter, ApplicationID: ev.ApplicationID, OldStatus: ev.PreviousState, NewStatus: ev.NewState, EventType: models.EventOfferAccepted},
	}
	for _, res := range d.SendBulkNotifications(ctx, reqs) {
		if res.Status != StatusSent {
			// Best effort only; the saga already committed.
			log.Printf("offer acceptance notification to %s failed: %s", res.RecipientID, res.Error)
		}
	}
	return nil
}
