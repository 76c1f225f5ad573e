package amfi

import (
	"time"

	"github.com/aristath/navhub/internal/domain"
)

// FailureKind classifies what went wrong during a fetch.
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureTimeout     FailureKind = "timeout"
	FailureHTTPStatus  FailureKind = "http_status"
	FailureEmptyBody   FailureKind = "empty_body"
	FailureParse       FailureKind = "parse"
	FailureDataQuality FailureKind = "data_quality"
	FailureValidation  FailureKind = "validation"
)

// Failure describes a typed fetch failure. It is carried inside FetchResult
// so callers always get a result back and check Success instead of catching
// an error from an unexpected frame.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code,omitempty"`
}

// FetchResult is the uniform return value of every fetch operation.
type FetchResult struct {
	Success   bool
	Source    string // "daily" or "historical"
	RequestID string
	Elapsed   time.Duration
	Records   []domain.NAVRecord
	Failure   *Failure
}

// Err converts a failed result into a typed domain error. Returns nil for
// successful results.
func (r *FetchResult) Err() error {
	if r.Success || r.Failure == nil {
		return nil
	}
	switch r.Failure.Kind {
	case FailureValidation:
		return &domain.ValidationError{Message: r.Failure.Message}
	case FailureDataQuality:
		return &domain.DataQualityError{Source: r.Source}
	case FailureTimeout:
		return &domain.ExternalFetchError{
			Source:    r.Source,
			RequestID: r.RequestID,
			Message:   r.Failure.Message,
			Timeout:   true,
			Elapsed:   r.Elapsed,
		}
	default:
		return &domain.ExternalFetchError{
			Source:    r.Source,
			RequestID: r.RequestID,
			Message:   r.Failure.Message,
			Elapsed:   r.Elapsed,
		}
	}
}

// Options tunes a single fetch call.
type Options struct {
	// RequestKey deduplicates concurrent identical requests. Callers sharing
	// a key receive the same pending (or briefly cached) result. When empty,
	// a key is derived from the operation and its parameters.
	RequestKey string

	// BypassCache forces a fresh outbound call even if a cached result exists.
	BypassCache bool

	// FundGroupID narrows historical report requests to one fund group.
	FundGroupID string
}

// Cache TTLs for completed results.
const (
	dailyResultTTL      = 60 * time.Second
	historicalResultTTL = 300 * time.Second
)

// MaxSpanDays is the hard limit of the external source's historical report
// window. Requests spanning more days fail fast without network I/O.
const MaxSpanDays = 90
