package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"offer-pipeline/internal/models"
)

// Memory is a map-backed adapter implementing every store port. It backs
// tests and the mock-backend mode when no Postgres is available.
type Memory struct {
	mu           sync.Mutex
	applications map[string]models.Application
	tracking     map[string][]models.TrackingEvent
	audit        []models.AuditEntry
	reminders    map[string]models.ReminderSchedule

	// FailUpdateFor simulates a store failure when updating the named
	// application. Tests use it to force saga steps to fail.
	FailUpdateFor map[string]error
	// FailTrackingFor simulates a failure when appending a tracking event.
	FailTrackingFor map[string]error
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applications:    make(map[string]models.Application),
		tracking:        make(map[string][]models.TrackingEvent),
		reminders:       make(map[string]models.ReminderSchedule),
		FailUpdateFor:   make(map[string]error),
		FailTrackingFor: make(map[string]error),
	}
}

// PutApplication inserts or replaces an application. Fixture helper.
func (m *Memory) PutApplication(app models.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	m.applications[app.ID] = app
}

func (m *Memory) GetApplications(_ context.Context, candidateID string) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var apps []models.Application
	for _, app := range m.applications {
		if app.CandidateID == candidateID {
			apps = append(apps, cloneApplication(app))
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps, nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return models.Application{}, ErrNotFound
	}
	return cloneApplication(app), nil
}

func (m *Memory) UpdateApplication(_ context.Context, id string, update ApplicationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailUpdateFor[id]; err != nil {
		return err
	}
	app, ok := m.applications[id]
	if !ok {
		return ErrNotFound
	}
	if update.ExpectedVersion != nil && app.Version != *update.ExpectedVersion {
		return ErrVersionConflict
	}
	if update.Status != nil {
		app.Status = *update.Status
	}
	if update.ExclusivityStatus != nil {
		app.ExclusivityStatus = *update.ExclusivityStatus
	}
	if update.AcceptanceHistory != nil {
		app.AcceptanceHistory = append([]models.AcceptanceRecord(nil), (*update.AcceptanceHistory)...)
	}
	app.Version++
	app.UpdatedAt = time.Now().UTC()
	m.applications[id] = app
	return nil
}

func (m *Memory) FindApplicationByAcceptance(_ context.Context, acceptanceID string) (models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.applications {
		for _, rec := range app.AcceptanceHistory {
			if rec.ID == acceptanceID {
				return cloneApplication(app), nil
			}
		}
	}
	return models.Application{}, ErrNotFound
}

func (m *Memory) CreateTrackingEntry(_ context.Context, appID string, event models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailTrackingFor[appID]; err != nil {
		return err
	}
	m.tracking[appID] = append(m.tracking[appID], event)
	return nil
}

func (m *Memory) GetTrackingHistory(_ context.Context, appID string) ([]models.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := append([]models.TrackingEvent(nil), m.tracking[appID]...)
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (m *Memory) AppendEntry(_ context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) ListByApplication(_ context.Context, appID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.AuditEntry
	for _, e := range m.audit {
		if e.ApplicationID == appID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	return entries, nil
}

func (m *Memory) SearchEntries(_ context.Context, q AuditQuery) ([]models.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.AuditEntry
	for _, e := range m.audit {
		if q.ApplicationID != "" && e.ApplicationID != q.ApplicationID {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if len(q.EventTypes) > 0 && !containsString(q.EventTypes, e.EventType) {
			continue
		}
		if !q.From.IsZero() && e.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (m *Memory) CreateReminder(_ context.Context, r models.ReminderSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.reminders[r.ID] = r
	return nil
}

func (m *Memory) GetReminder(_ context.Context, id string) (models.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return models.ReminderSchedule{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) UpdateReminder(_ context.Context, r models.ReminderSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	m.reminders[r.ID] = r
	return nil
}

func (m *Memory) ListRemindersByApplication(_ context.Context, appID string) ([]models.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reminders []models.ReminderSchedule
	for _, r := range m.reminders {
		if r.ApplicationID == appID {
			reminders = append(reminders, r)
		}
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].ScheduledFor.Before(reminders[j].ScheduledFor) })
	return reminders, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, r := range m.reminders {
		counts[r.Status]++
	}
	return counts, nil
}

func cloneApplication(app models.Application) models.Application {
	app.AcceptanceHistory = append([]models.AcceptanceRecord(nil), app.AcceptanceHistory...)
	if app.OfferDetails != nil {
		offer := *app.OfferDetails
		app.OfferDetails = &offer
	}
	return app
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
