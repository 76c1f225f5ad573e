package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/navhub/internal/domain"
	"github.com/aristath/navhub/internal/modules/jobs"
)

type dailyTriggerRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	IsLive   bool   `json:"is_live"`
}

type historicalTriggerRequest struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	IsLive      bool     `json:"is_live"`
	SchemeCodes []string `json:"scheme_codes"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
}

// handleTriggerDaily starts a daily snapshot download.
func (s *Server) handleTriggerDaily(w http.ResponseWriter, r *http.Request) {
	var req dailyTriggerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	result, err := s.orchestrator.TriggerDaily(req.TenantID, req.UserID, domain.EnvironmentFromLive(req.IsLive))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

// handleTriggerWeekly starts a weekly snapshot download. Same pipeline as
// daily; only the job type and lock key differ.
func (s *Server) handleTriggerWeekly(w http.ResponseWriter, r *http.Request) {
	var req dailyTriggerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	result, err := s.orchestrator.TriggerWeekly(req.TenantID, domain.EnvironmentFromLive(req.IsLive))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

// handleTriggerHistorical starts a historical backfill, chunked when the
// range exceeds the source's query window.
func (s *Server) handleTriggerHistorical(w http.ResponseWriter, r *http.Request) {
	var req historicalTriggerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	env := domain.EnvironmentFromLive(req.IsLive)

	result, err := s.orchestrator.TriggerHistorical(req.TenantID, req.UserID, env, req.SchemeCodes, start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

// handleListJobs lists job records, filterable by tenant, type and status.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := jobs.ListFilters{
		TenantID: q.Get("tenant_id"),
		Type:     jobs.JobType(q.Get("type")),
		Status:   jobs.Status(q.Get("status")),
		ParentID: q.Get("parent_id"),
	}
	if isLive := q.Get("is_live"); isLive != "" {
		live, _ := strconv.ParseBool(isLive)
		filters.Environment = domain.EnvironmentFromLive(live)
	}
	if limit := q.Get("limit"); limit != "" {
		filters.Limit, _ = strconv.Atoi(limit)
	}

	list, err := s.jobsRepo.List(filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// handleGetJob returns one durable job record, with its chunk children when
// it is a chunked parent.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.jobsRepo.Get(jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	response := map[string]interface{}{"job": job}
	if job.TotalChunks != nil && !job.IsChunk() {
		children, err := s.jobsRepo.ListChildren(job.ID)
		if err == nil {
			response["chunks"] = children
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleJobProgress returns the pollable progress snapshot for a job.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	snap, err := s.orchestrator.Progress(jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// handleChunkProgress returns chunk-level progress for a chunked parent.
func (s *Server) handleChunkProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	seq, err := s.orchestrator.SequentialProgress(jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, seq)
}

// handleActiveDownloads returns progress for all non-terminal jobs.
func (s *Server) handleActiveDownloads(w http.ResponseWriter, r *http.Request) {
	active := s.orchestrator.ActiveDownloads()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"downloads": active,
		"count":     len(active),
	})
}

// handleCancelJob requests cooperative cancellation of a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.orchestrator.Cancel(jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(jobs.StatusCancelled),
	})
}
