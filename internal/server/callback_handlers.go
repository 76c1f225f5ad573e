package server

import (
	"encoding/json"
	"net/http"
)

// downloadCallback is the payload the external workflow posts back after it
// finishes. The polling surface is the source of truth; this record is
// best-effort bookkeeping.
type downloadCallback struct {
	JobID       string          `json:"job_id"`
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// handleDownloadCallback accepts the workflow's completion callback.
func (s *Server) handleDownloadCallback(w http.ResponseWriter, r *http.Request) {
	var cb downloadCallback
	if err := s.decodeJSON(r, &cb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cb.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	if err := s.jobsRepo.RecordCallback(cb.JobID, cb.ExecutionID, cb.Status, string(cb.Result), cb.Error); err != nil {
		// Recording failure never fails the callback; polling remains
		// the source of truth.
		s.log.Warn().
			Err(err).
			Str("job_id", cb.JobID).
			Msg("Failed to record download callback")
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"received": cb.JobID})
}
