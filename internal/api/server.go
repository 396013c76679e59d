package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"offer-pipeline/internal/audit"
	"offer-pipeline/internal/config"
	"offer-pipeline/internal/ratelimit"
	"offer-pipeline/internal/reminder"
	"offer-pipeline/internal/saga"
	"offer-pipeline/internal/store"
	"offer-pipeline/internal/telemetry"
)

// Server wires HTTP handlers for the offer-acceptance pipeline.
type Server struct {
	cfg       config.Config
	saga      *saga.OfferAcceptance
	audit     *audit.Service
	reminders *reminder.Scheduler
	limiter   *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, acceptance *saga.OfferAcceptance, auditSvc *audit.Service, reminders *reminder.Scheduler, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:       cfg,
		saga:      acceptance,
		audit:     auditSvc,
		reminders: reminders,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/proposals/{id}/accept", s.handleAccept)
	r.Post("/proposals/{id}/validate", s.handleValidate)
	r.Post("/acceptances/{id}/rollback", s.handleRollbackAcceptance)

	r.Get("/applications/{id}/audit", s.handleAuditTrail)
	r.Get("/applications/{id}/audit/verify", s.handleAuditVerify)
	r.Post("/applications/{id}/audit/export", s.handleAuditExport)
	r.Get("/audit/search", s.handleAuditSearch)
	r.Get("/audit/summary", s.handleAuditSummary)

	r.Post("/applications/{id}/reminders", s.handleScheduleReminders)
	r.Delete("/applications/{id}/reminders", s.handleCancelReminders)
	r.Get("/reminders/stats", s.handleReminderStats)
	return r
}

type acceptRequest struct {
	CandidateID    string         `json:"candidate_id"`
	AcceptedTerms  map[string]any `json:"accepted_terms"`
	CandidateNotes string         `json:"candidate_notes"`
	AcceptedBy     string         `json:"accepted_by"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	proposalID := chi.URLParam(r, "id")
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CandidateID == "" {
		http.Error(w, "candidate_id is required", http.StatusBadRequest)
		return
	}

	result := s.saga.AcceptProposal(r.Context(), proposalID, req.CandidateID, saga.AcceptanceData{
		AcceptedTerms:  req.AcceptedTerms,
		CandidateNotes: req.CandidateNotes,
		AcceptedBy:     req.AcceptedBy,
	})
	code := http.StatusOK
	if !result.Success {
		code = http.StatusConflict
	}
	writeJSON(w, code, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	proposalID := chi.URLParam(r, "id")
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CandidateID == "" {
		http.Error(w, "candidate_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.saga.ValidateAcceptance(r.Context(), proposalID, req.CandidateID))
}

func (s *Server) handleRollbackAcceptance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.saga.RollbackAcceptance(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), store.ErrNotFound.Error()) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.audit.GetAuditTrail(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.audit.VerifyAuditIntegrity(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.audit.ExportAuditTrail(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	q := store.AuditQuery{
		ApplicationID: r.URL.Query().Get("application_id"),
		UserID:        r.URL.Query().Get("user_id"),
		Offset:        queryInt(r, "offset"),
		Limit:         queryInt(r, "limit"),
	}
	if types := r.URL.Query().Get("event_types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if trimmed := strings.TrimSpace(t); trimmed != "" {
				q.EventTypes = append(q.EventTypes, trimmed)
			}
		}
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		q.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		q.To = t
	}

	result, err := s.audit.SearchAuditEntries(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.audit.GetAuditSummary(r.Context(), r.URL.Query().Get("application_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type scheduleRemindersRequest struct {
	Stages []reminder.Stage `json:"stages"`
}

func (s *Server) handleScheduleReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req scheduleRemindersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Stages) == 0 {
		http.Error(w, "stages are required", http.StatusBadRequest)
		return
	}
	created, err := s.reminders.ScheduleFollowUpReminders(r.Context(), id, req.Stages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reminders": created})
}

func (s *Server) handleCancelReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reminders.CancelApplicationReminders(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleReminderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reminders.GetReminderStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// allow applies the per-tenant rate limit. A nil limiter admits everything.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	limKey := fmt.Sprintf("rl:%s", tenantFromRequest(r))
	allowed, _, err := s.limiter.Allow(r.Context(), limKey)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
