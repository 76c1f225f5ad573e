package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/navhub/internal/domain"
	"github.com/aristath/navhub/internal/scheduler"
)

type saveConfigRequest struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	IsLive         bool   `json:"is_live"`
	ScheduleType   string `json:"schedule_type"`
	CronExpression string `json:"cron_expression"`
	PreferredTime  string `json:"preferred_time,omitempty"`
	WebhookURL     string `json:"webhook_url"`
	Enabled        bool   `json:"enabled"`
}

// handleSaveSchedulerConfig creates or replaces a tenant's recurring
// download configuration and (re)starts its timer.
func (s *Server) handleSaveSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	var req saveConfigRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := s.scheduler.SaveConfig(&scheduler.Config{
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		Environment:    domain.EnvironmentFromLive(req.IsLive),
		ScheduleType:   scheduler.ScheduleType(req.ScheduleType),
		CronExpression: req.CronExpression,
		PreferredTime:  req.PreferredTime,
		WebhookURL:     req.WebhookURL,
		Enabled:        req.Enabled,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cfg)
}

// handleGetSchedulerConfig returns the configuration identified by the
// tenant_id, user_id and is_live query parameters.
func (s *Server) handleGetSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenantID := q.Get("tenant_id")
	userID := q.Get("user_id")
	if tenantID == "" || userID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id and user_id are required")
		return
	}
	isLive := q.Get("is_live") != "false"

	cfg, err := s.scheduler.GetConfig(tenantID, userID, domain.EnvironmentFromLive(isLive))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cfg)
}

// handleDeleteSchedulerConfig removes a configuration and stops its timer.
func (s *Server) handleDeleteSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")

	if err := s.scheduler.DeleteConfig(configID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": configID})
}

// handleSchedulerStatus returns the configuration, timer state and recent
// execution history for one identity.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenantID := q.Get("tenant_id")
	userID := q.Get("user_id")
	if tenantID == "" || userID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id and user_id are required")
		return
	}
	isLive := q.Get("is_live") != "false"

	status, err := s.scheduler.GetStatus(tenantID, userID, domain.EnvironmentFromLive(isLive))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleManualTrigger fires a configuration immediately.
func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")

	exec, err := s.scheduler.ManualTrigger(r.Context(), configID)
	if err != nil {
		if exec != nil {
			// The fire happened but failed; surface the recorded execution
			s.writeJSON(w, http.StatusBadGateway, exec)
			return
		}
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, exec)
}
