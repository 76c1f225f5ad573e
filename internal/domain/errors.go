package domain

import (
	"fmt"
	"time"
)

// ValidationError indicates a request was rejected before any work started
// (bad date range, span over the source limit, future end date).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError indicates a resource is already in the requested state
// (lock already held, historical backfill already completed).
type ConflictError struct {
	Resource   string
	ExistingID string
	Message    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

// NotFoundError indicates an unknown job or configuration identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ExternalFetchError indicates a failure talking to the external NAV source.
// Timeout distinguishes request-timeout expiry from other network failures.
type ExternalFetchError struct {
	Source    string
	RequestID string
	Message   string
	Timeout   bool
	Elapsed   time.Duration
}

func (e *ExternalFetchError) Error() string {
	kind := "fetch"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("external %s failure from %s (request %s): %s", kind, e.Source, e.RequestID, e.Message)
}

// DataQualityError indicates a fetched batch was rejected wholesale because
// too many parsed rows were missing required fields.
type DataQualityError struct {
	Source      string
	TotalRows   int
	InvalidRows int
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality rejection from %s: %d of %d rows invalid", e.Source, e.InvalidRows, e.TotalRows)
}

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
