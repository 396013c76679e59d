package reminder

import (
	"context"
	"log"
	"time"

	"offer-pipeline/internal/config"
	"offer-pipeline/internal/telemetry"
)

// Worker drives the reminder dispatch loop: it pops due reminders from the
// delay queue and hands them to the scheduler for delivery.
type Worker struct {
	cfg       config.Config
	queue     *DelayQueue
	scheduler *Scheduler
}

// NewWorker builds the dispatch loop.
func NewWorker(cfg config.Config, queue *DelayQueue, scheduler *Scheduler) *Worker {
	return &Worker{cfg: cfg, queue: queue, scheduler: scheduler}
}

// Run polls until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.cfg.ReminderPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := int64(w.cfg.ReminderBatchSize)
	if batch <= 0 {
		batch = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if depth, err := w.queue.Depth(ctx); err == nil {
			telemetry.PendingReminders.Set(float64(depth))
		}

		ids, err := w.queue.PopDue(ctx, time.Now(), batch)
		if err != nil {
			log.Printf("pop due reminders: %v", err)
			continue
		}
		for _, id := range ids {
			if err := w.scheduler.SendReminder(ctx, id); err != nil {
				log.Printf("send reminder %s: %v", id, err)
			}
		}
	}
}
