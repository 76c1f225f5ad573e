package download

import (
	"time"
)

// MaxChunkDays is the largest window a single historical request may cover,
// matching the external source's report limit.
const MaxChunkDays = 90

// DateRange is an inclusive calendar date window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days the range covers, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// SplitRange splits [start, end] into consecutive, non-overlapping windows of
// at most maxDays days each. The windows are contiguous and their union
// equals the original range.
func SplitRange(start, end time.Time, maxDays int) []DateRange {
	if maxDays <= 0 {
		maxDays = MaxChunkDays
	}
	start = truncateToDay(start)
	end = truncateToDay(end)
	if start.After(end) {
		return nil
	}

	var chunks []DateRange
	chunkStart := start
	for !chunkStart.After(end) {
		chunkEnd := chunkStart.AddDate(0, 0, maxDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, DateRange{Start: chunkStart, End: chunkEnd})
		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}

	return chunks
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
