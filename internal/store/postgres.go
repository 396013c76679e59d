package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"offer-pipeline/internal/models"
)

// Postgres wraps pgxpool and implements the ApplicationStore, AuditStore,
// and ReminderStore ports.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const applicationColumns = `id, candidate_id, job_id, status, exclusivity_status, offer_details, acceptance_history, version, created_at, updated_at`

// GetApplications returns every application belonging to the candidate.
func (s *Postgres) GetApplications(ctx context.Context, candidateID string) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+applicationColumns+`
		FROM applications WHERE candidate_id = $1
		ORDER BY created_at
	`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// GetApplication fetches one application by id.
func (s *Postgres) GetApplication(ctx context.Context, id string) (models.Application, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM applications WHERE id = $1
	`, id)
	app, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Application{}, ErrNotFound
	}
	return app, err
}

// UpdateApplication applies a partial update, bumping the version. When the
// update carries ExpectedVersion the write is rejected on a stale version.
func (s *Postgres) UpdateApplication(ctx context.Context, id string, update ApplicationUpdate) error {
	sets := []string{"updated_at = NOW()", "version = version + 1"}
	args := []any{id}

	if update.Status != nil {
		args = append(args, *update.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.ExclusivityStatus != nil {
		args = append(args, *update.ExclusivityStatus)
		sets = append(sets, fmt.Sprintf("exclusivity_status = $%d", len(args)))
	}
	if update.AcceptanceHistory != nil {
		historyJSON, err := json.Marshal(*update.AcceptanceHistory)
		if err != nil {
			return fmt.Errorf("marshal acceptance history: %w", err)
		}
		args = append(args, historyJSON)
		sets = append(sets, fmt.Sprintf("acceptance_history = $%d", len(args)))
	}

	where := "id = $1"
	if update.ExpectedVersion != nil {
		args = append(args, *update.ExpectedVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := "UPDATE applications SET " + joinSets(sets) + " WHERE " + where
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if update.ExpectedVersion != nil {
			// Distinguish a missing row from a stale version.
			if _, err := s.GetApplication(ctx, id); err != nil {
				return err
			}
			return ErrVersionConflict
		}
		return ErrNotFound
	}
	return nil
}

// CreateApplication inserts a new application row. Used by fixtures and the
// surrounding CRUD layer, not by the saga.
func (s *Postgres) CreateApplication(ctx context.Context, app models.Application) error {
	offerJSON, err := json.Marshal(app.OfferDetails)
	if err != nil {
		return fmt.Errorf("marshal offer details: %w", err)
	}
	historyJSON, err := json.Marshal(app.AcceptanceHistory)
	if err != nil {
		return fmt.Errorf("marshal acceptance history: %w", err)
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO applications (id, candidate_id, job_id, status, exclusivity_status, offer_details, acceptance_history, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, app.ID, app.CandidateID, app.JobID, app.Status, app.ExclusivityStatus, offerJSON, historyJSON, app.Version, app.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// FindApplicationByAcceptance resolves the application whose acceptance
// history contains the given record id.
func (s *Postgres) FindApplicationByAcceptance(ctx context.Context, acceptanceID string) (models.Application, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE acceptance_history @> jsonb_build_array(jsonb_build_object('id', $1::text))
	`, acceptanceID)
	app, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Application{}, ErrNotFound
	}
	return app, err
}

// CreateTrackingEntry appends an immutable tracking event row.
func (s *Postgres) CreateTrackingEntry(ctx context.Context, appID string, event models.TrackingEvent) error {
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracking_events (id, application_id, event_type, ts, details, triggered_by, previous_state, new_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, appID, event.EventType, event.Timestamp, event.Details, event.TriggeredBy, event.PreviousState, event.NewState, metaJSON)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}

// GetTrackingHistory returns the application's events oldest first.
func (s *Postgres) GetTrackingHistory(ctx context.Context, appID string) ([]models.TrackingEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, application_id, event_type, ts, details, triggered_by, previous_state, new_state, metadata
		FROM tracking_events WHERE application_id = $1
		ORDER BY ts
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("query tracking events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackingEvent
	for rows.Next() {
		var ev models.TrackingEvent
		var details, prev, next pgtype.Text
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.EventType, &ev.Timestamp, &details, &ev.TriggeredBy, &prev, &next, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		ev.Details = details.String
		ev.PreviousState = prev.String
		ev.NewState = next.String
		if len(metaJSON) > 0 && string(metaJSON) != "null" {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendEntry adds an audit row.
func (s *Postgres) AppendEntry(ctx context.Context, entry models.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, application_id, event_type, ts, user_id, previous_state, new_state, reason, details, critical)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.ApplicationID, entry.EventType, entry.Timestamp, entry.UserID, entry.PreviousState, entry.NewState, entry.Reason, detailsJSON, entry.Critical)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const auditSelect = `
	SELECT id, application_id, event_type, ts, user_id, previous_state, new_state, reason, details, critical
	FROM audit_entries
`

// ListByApplication returns audit entries for one application, newest first.
func (s *Postgres) ListByApplication(ctx context.Context, appID string) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, auditSelect+`
		WHERE application_id = $1
		ORDER BY ts DESC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return collectAuditRows(rows)
}

// SearchEntries filters the audit trail with offset/limit pagination.
func (s *Postgres) SearchEntries(ctx context.Context, q AuditQuery) ([]models.AuditEntry, int, error) {
	where := "TRUE"
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}
	if q.ApplicationID != "" {
		add("application_id = $%d", q.ApplicationID)
	}
	if len(q.EventTypes) > 0 {
		add("event_type = ANY($%d)", q.EventTypes)
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if !q.From.IsZero() {
		add("ts >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("ts <= $%d", q.To)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := auditSelect + ` WHERE ` + where + ` ORDER BY ts DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search audit entries: %w", err)
	}
	defer rows.Close()
	entries, err := collectAuditRows(rows)
	return entries, total, err
}

// CreateReminder persists a reminder schedule row.
func (s *Postgres) CreateReminder(ctx context.Context, r models.ReminderSchedule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminder_schedules (id, application_id, stage_name, reminder_type, scheduled_for, recipient, message, status, retry_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, r.ID, r.ApplicationID, r.StageName, r.ReminderType, r.ScheduledFor, r.Recipient, r.Message, r.Status, r.RetryCount, r.LastError, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

const reminderColumns = `id, application_id, stage_name, reminder_type, scheduled_for, recipient, message, status, retry_count, last_error, created_at, updated_at`

// GetReminder fetches one reminder by id.
func (s *Postgres) GetReminder(ctx context.Context, id string) (models.ReminderSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminder_schedules WHERE id = $1
	`, id)

	var r models.ReminderSchedule
	var lastErr pgtype.Text
	if err := row.Scan(&r.ID, &r.ApplicationID, &r.StageName, &r.ReminderType, &r.ScheduledFor, &r.Recipient, &r.Message, &r.Status, &r.RetryCount, &lastErr, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReminderSchedule{}, ErrNotFound
		}
		return models.ReminderSchedule{}, fmt.Errorf("scan reminder: %w", err)
	}
	r.LastError = textPtr(lastErr)
	return r, nil
}

// UpdateReminder sets status, retry count, schedule, and last error atomically.
func (s *Postgres) UpdateReminder(ctx context.Context, r models.ReminderSchedule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_schedules
		SET status = $2, retry_count = $3, scheduled_for = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.Status, r.RetryCount, r.ScheduledFor, r.LastError)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRemindersByApplication returns all reminders scheduled for one application.
func (s *Postgres) ListRemindersByApplication(ctx context.Context, appID string) ([]models.ReminderSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminder_schedules WHERE application_id = $1
		ORDER BY scheduled_for
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.ReminderSchedule
	for rows.Next() {
		var r models.ReminderSchedule
		var lastErr pgtype.Text
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.StageName, &r.ReminderType, &r.ScheduledFor, &r.Recipient, &r.Message, &r.Status, &r.RetryCount, &lastErr, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.LastError = textPtr(lastErr)
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CountByStatus aggregates reminder counts for observability.
func (s *Postgres) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM reminder_schedules GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count reminders: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan reminder count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (models.Application, error) {
	var app models.Application
	var offerJSON, historyJSON []byte
	if err := row.Scan(&app.ID, &app.CandidateID, &app.JobID, &app.Status, &app.ExclusivityStatus, &offerJSON, &historyJSON, &app.Version, &app.CreatedAt, &app.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Application{}, pgx.ErrNoRows
		}
		return models.Application{}, fmt.Errorf("scan application: %w", err)
	}
	if len(offerJSON) > 0 && string(offerJSON) != "null" {
		app.OfferDetails = &models.OfferDetails{}
		if err := json.Unmarshal(offerJSON, app.OfferDetails); err != nil {
			return models.Application{}, fmt.Errorf("unmarshal offer details: %w", err)
		}
	}
	if len(historyJSON) > 0 && string(historyJSON) != "null" {
		if err := json.Unmarshal(historyJSON, &app.AcceptanceHistory); err != nil {
			return models.Application{}, fmt.Errorf("unmarshal acceptance history: %w", err)
		}
	}
	return app, nil
}

func collectAuditRows(rows pgx.Rows) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var userID, prev, next, reason pgtype.Text
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.EventType, &e.Timestamp, &userID, &prev, &next, &reason, &detailsJSON, &e.Critical); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.UserID = userID.String
		e.PreviousState = prev.String
		e.NewState = next.String
		e.Reason = reason.String
		if len(detailsJSON) > 0 && string(detailsJSON) != "null" {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
