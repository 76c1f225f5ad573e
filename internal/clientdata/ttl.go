package clientdata

import "time"

// TTL constants for cached NAV payloads.
// These are added to time.Now() when storing to calculate expires_at.
//
// The persistent layer holds entries longer than the fetcher's in-memory
// result cache so that a process restart shortly after a download does not
// force a refetch from the rate-limited source.
const (
	// TTLDailyNAV - full daily snapshot, republished once per day
	TTLDailyNAV = 4 * time.Hour

	// TTLHistoricalNAV - historical report windows never change once published
	TTLHistoricalNAV = 7 * 24 * time.Hour
)

// Table names for cached payload kinds.
const (
	TableDailyNAV      = "daily_nav"
	TableHistoricalNAV = "historical_nav"
)
