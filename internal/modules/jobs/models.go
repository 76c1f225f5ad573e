// Package jobs provides the durable store for download job records.
package jobs

import (
	"time"

	"github.com/aristath/navhub/internal/domain"
)

// JobType identifies what a download job fetches.
type JobType string

const (
	JobTypeDaily      JobType = "daily"
	JobTypeHistorical JobType = "historical"
	JobTypeWeekly     JobType = "weekly"
)

// Status is the lifecycle state of a download job.
// Transitions are monotonic: pending -> running -> terminal. Terminal states
// are final; no job ever transitions out of one.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// rank orders statuses along the one-directional lifecycle.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo enforces monotonic, one-directional status transitions.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// SchemeError records a per-scheme failure inside a result summary.
type SchemeError struct {
	SchemeCode string `json:"scheme_code"`
	Message    string `json:"message"`
}

// ResultSummary aggregates the outcome of one executed job.
type ResultSummary struct {
	TotalRecords int           `json:"total_records"`
	Inserted     int           `json:"inserted"`
	Updated      int           `json:"updated"`
	Failed       int           `json:"failed"`
	SchemeErrors []SchemeError `json:"scheme_errors,omitempty"`
	ElapsedMS    int64         `json:"elapsed_ms"`
}

// DownloadJob is a persisted download request and its outcome.
type DownloadJob struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	UserID      string             `json:"user_id,omitempty"`
	Environment domain.Environment `json:"environment"`
	Type        JobType            `json:"type"`
	SchemeCodes []string           `json:"scheme_codes"`
	Status      Status             `json:"status"`

	// Historical jobs only
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Chunked historical jobs only
	ParentJobID *string `json:"parent_job_id,omitempty"`
	ChunkNumber *int    `json:"chunk_number,omitempty"`
	TotalChunks *int    `json:"total_chunks,omitempty"`

	ResultSummary *ResultSummary `json:"result_summary,omitempty"`
	ErrorDetails  string         `json:"error_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsChunk reports whether the job is a child of a chunked historical request.
func (j *DownloadJob) IsChunk() bool {
	return j.ParentJobID != nil
}

// ListFilters narrows List queries.
type ListFilters struct {
	TenantID    string
	Environment domain.Environment
	Type        JobType
	Status      Status
	ParentID    string
	Limit       int
}
