// Package domain holds core types shared across navhub components.
// It has no infrastructure dependencies.
package domain

import "time"

// Environment distinguishes live tenant data from test/sandbox data.
type Environment string

const (
	EnvLive Environment = "live"
	EnvTest Environment = "test"
)

// EnvironmentFromLive maps the wire-level is_live flag to an Environment.
func EnvironmentFromLive(isLive bool) Environment {
	if isLive {
		return EnvLive
	}
	return EnvTest
}

// NAVRecord is a single published price point for a fund scheme.
type NAVRecord struct {
	SchemeCode string
	SchemeName string
	ISIN       string
	NAV        float64
	Date       time.Time
}

// DateKey returns the record date formatted for storage keys (YYYY-MM-DD).
func (r NAVRecord) DateKey() string {
	return r.Date.Format("2006-01-02")
}
