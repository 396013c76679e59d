package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SagaSuccess          = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_saga_success_total", Help: "Acceptance sagas completed successfully"})
	SagaFailures         = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_saga_failures_total", Help: "Acceptance sagas that failed and were compensated"})
	SagaRollbackErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_saga_rollback_errors_total", Help: "Compensation steps that themselves failed"})
	ValidationRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_validation_rejects_total", Help: "Acceptance attempts rejected before any mutation"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	AuditEntriesWritten  = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_audit_entries_total", Help: "Audit entries appended"})
	CriticalAlerts       = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_critical_alerts_total", Help: "Critical audit events pushed to the alert sink"})
	RemindersSent        = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_reminders_sent_total", Help: "Reminders dispatched successfully"})
	RemindersFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_reminders_failed_total", Help: "Reminders that exhausted retries"})
	RemindersRescheduled = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_reminders_rescheduled_total", Help: "Reminders rescheduled after a delivery failure"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_notifications_sent_total", Help: "Notifications delivered"})
	NotificationsFailed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_notifications_failed_total", Help: "Notifications that exhausted retries"})
	ConsumerErrors       = prometheus.NewCounter(prometheus.CounterOpts{Name: "offers_event_consumer_errors_total", Help: "Post-commit event consumers that returned an error"})
	PendingReminders     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "offers_reminders_pending", Help: "Reminders waiting in the delay queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SagaSuccess,
			SagaFailures,
			SagaRollbackErrors,
			ValidationRejects,
			RateLimitRejects,
			AuditEntriesWritten,
			CriticalAlerts,
			RemindersSent,
			RemindersFailed,
			RemindersRescheduled,
			NotificationsSent,
			NotificationsFailed,
			ConsumerErrors,
			PendingReminders,
		)
	})
	return promhttp.Handler()
}
