// Package reminder schedules time-delayed follow-up messages per pipeline
// stage and retries failed deliveries with exponential backoff.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"offer-pipeline/internal/config"
	"offer-pipeline/internal/event"
	"offer-pipeline/internal/models"
	"offer-pipeline/internal/notify"
	"offer-pipeline/internal/store"
	"offer-pipeline/internal/telemetry"
)

// Sender delivers one reminder message.
type Sender interface {
	Deliver(ctx context.Context, r models.ReminderSchedule) error
}

// ChannelSender delivers reminders through a notification channel.
type ChannelSender struct {
	Channel notify.Channel
}

func (s ChannelSender) Deliver(ctx context.Context, r models.ReminderSchedule) error {
	res := s.Channel.Send(ctx, r.Recipient, notify.ChannelEmail, notify.Template{
		Subject: fmt.Sprintf("Reminder: %s (%s)", r.StageName, r.ReminderType),
		Body:    r.Message,
	})
	if res.Status != notify.StatusSent {
		return fmt.Errorf("deliver reminder: %s", res.Error)
	}
	return nil
}

// Stage names a pipeline stage reminders are scheduled for.
type Stage struct {
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
}

// Scheduler creates, cancels, and dispatches reminder schedules.
type Scheduler struct {
	store      store.ReminderStore
	queue      *DelayQueue
	sender     Sender
	maxRetries int

	deadlineOffset time.Duration
	followUpOffset time.Duration
	interviewOffset time.Duration
	documentOffset time.Duration
}

// NewScheduler wires the scheduler from config.
func NewScheduler(cfg config.Config, st store.ReminderStore, queue *DelayQueue, sender Sender) *Scheduler {
	maxRetries := cfg.ReminderMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Scheduler{
		store:           st,
		queue:           queue,
		sender:          sender,
		maxRetries:      maxRetries,
		deadlineOffset:  orDefault(cfg.StageDeadlineOffset, 24*time.Hour),
		followUpOffset:  orDefault(cfg.FollowUpOffset, 72*time.Hour),
		interviewOffset: orDefault(cfg.InterviewOffset, 2*time.Hour),
		documentOffset:  orDefault(cfg.DocumentRequestOffset, 24*time.Hour),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// ScheduleFollowUpReminders cancels any reminders still pending for the
// application, then creates the per-stage set: a stage-deadline reminder and
// a candidate follow-up always, an interview reminder when the stage name
// mentions an interview, and a document-request reminder for document or
// background stages.
func (s *Scheduler) ScheduleFollowUpReminders(ctx context.Context, appID string, stages []Stage) ([]models.ReminderSchedule, error) {
	if err := s.CancelApplicationReminders(ctx, appID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var created []models.ReminderSchedule
	for _, stage := range stages {
		kinds := []struct {
			reminderType string
			offset       time.Duration
			message      string
		}{
			{models.ReminderStageDeadline, s.deadlineOffset, fmt.Sprintf("Stage %q is approaching its deadline.", stage.Name)},
			{models.ReminderFollowUp, s.followUpOffset, fmt.Sprintf("Follow up with the candidate about stage %q.", stage.Name)},
		}
		lower := strings.ToLower(stage.Name)
		if strings.Contains(lower, "interview") {
			kinds = append(kinds, struct {
				reminderType string
				offset       time.Duration
				message      string
			}{models.ReminderInterview, s.interviewOffset, fmt.Sprintf("Interview for stage %q is coming up.", stage.Name)})
		}
		if strings.Contains(lower, "document") || strings.Contains(lower, "background") {
			kinds = append(kinds, struct {
				reminderType string
				offset       time.Duration
				message      string
			}{models.ReminderDocumentRequest, s.documentOffset, fmt.Sprintf("Documents for stage %q are still outstanding.", stage.Name)})
		}

		for _, kind := range kinds {
			r := models.ReminderSchedule{
				ID:            uuid.New().String(),
				ApplicationID: appID,
				StageName:     stage.Name,
				ReminderType:  kind.reminderType,
				ScheduledFor:  now.Add(kind.offset),
				Recipient:     stage.Recipient,
				Message:       kind.message,
				Status:        models.ReminderScheduled,
				CreatedAt:     now,
			}
			if err := s.ScheduleReminder(ctx, r); err != nil {
				return created, err
			}
			created = append(created, r)
		}
	}
	return created, nil
}

// ScheduleReminder persists the schedule and arms dispatch. A reminder whose
// time is already past is delivered immediately.
func (s *Scheduler) ScheduleReminder(ctx context.Context, r models.ReminderSchedule) error {
	if r.Status == "" {
		r.Status = models.ReminderScheduled
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return fmt.Errorf("persist reminder: %w", err)
	}
	if !r.ScheduledFor.After(time.Now()) {
		return s.SendReminder(ctx, r.ID)
	}
	if err := s.queue.Arm(ctx, r.ID, r.ScheduledFor); err != nil {
		return fmt.Errorf("arm reminder %s: %w", r.ID, err)
	}
	return nil
}

// SendReminder dispatches one reminder. It is idempotent: a reminder whose
// status is anything but scheduled is left untouched. A failed delivery is
// rescheduled at 2^retryCount minutes until the retry budget runs out, then
// marked failed for good.
func (s *Scheduler) SendReminder(ctx context.Context, id string) error {
	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != models.ReminderScheduled {
		return nil
	}

	if err := s.sender.Deliver(ctx, r); err != nil {
		msg := err.Error()
		r.LastError = &msg
		if r.RetryCount < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(r.RetryCount))) * time.Minute
			r.ScheduledFor = time.Now().UTC().Add(backoff)
			r.RetryCount++
			if err := s.store.UpdateReminder(ctx, r); err != nil {
				return fmt.Errorf("reschedule reminder %s: %w", id, err)
			}
			if err := s.queue.Arm(ctx, r.ID, r.ScheduledFor); err != nil {
				return fmt.Errorf("arm reminder %s: %w", id, err)
			}
			telemetry.RemindersRescheduled.Inc()
			return nil
		}
		r.Status = models.ReminderFailed
		if err := s.store.UpdateReminder(ctx, r); err != nil {
			return fmt.Errorf("mark reminder %s failed: %w", id, err)
		}
		telemetry.RemindersFailed.Inc()
		return nil
	}

	r.Status = models.ReminderSent
	r.LastError = nil
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return fmt.Errorf("mark reminder %s sent: %w", id, err)
	}
	telemetry.RemindersSent.Inc()
	return nil
}

// CancelReminder disarms and cancels one pending reminder. Reminders already
// sent, failed, or cancelled are untouched.
func (s *Scheduler) CancelReminder(ctx context.Context, id string) error {
	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if r.Status != models.ReminderScheduled {
		return nil
	}
	if err := s.queue.Disarm(ctx, id); err != nil {
		log.Printf("disarm reminder %s: %v", id, err)
	}
	r.Status = models.ReminderCancelled
	return s.store.UpdateReminder(ctx, r)
}

// CancelApplicationReminders cancels every pending reminder for one application.
func (s *Scheduler) CancelApplicationReminders(ctx context.Context, appID string) error {
	reminders, err := s.store.ListRemindersByApplication(ctx, appID)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if r.Status != models.ReminderScheduled {
			continue
		}
		if err := s.CancelReminder(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports reminder counts by status.
type Stats struct {
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// GetReminderStats aggregates counts for observability.
func (s *Scheduler) GetReminderStats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Scheduled: counts[models.ReminderScheduled],
		Sent:      counts[models.ReminderSent],
		Cancelled: counts[models.ReminderCancelled],
		Failed:    counts[models.ReminderFailed],
	}, nil
}

// HandleOfferAccepted subscribes the scheduler to the post-commit bus,
// arming the onboarding follow-up set for the accepted application.
func (s *Scheduler) HandleOfferAccepted(ctx context.Context, ev event.Event) error {
	_, err := s.ScheduleFollowUpReminders(ctx, ev.ApplicationID, []Stage{
		{Name: "offer accepted", Recipient: ev.CandidateID},
	})
	return err
}
