package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/navhub/internal/domain"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "navhub",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps a domain error to its HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr  *domain.ValidationError
		conflictErr    *domain.ConflictError
		notFoundErr    *domain.NotFoundError
		fetchErr       *domain.ExternalFetchError
		dataQualityErr *domain.DataQualityError
	)

	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflictErr):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":       err.Error(),
			"existing_id": conflictErr.ExistingID,
		})
	case errors.As(err, &notFoundErr):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &fetchErr), errors.As(err, &dataQualityErr):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a JSON request body.
func (s *Server) decodeJSON(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dest)
}
