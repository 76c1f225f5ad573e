package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitRange(t *testing.T) {
	t.Run("two hundred days split into 90 90 20", func(t *testing.T) {
		start := day(2025, 1, 1)
		end := start.AddDate(0, 0, 199) // 200 inclusive days

		chunks := SplitRange(start, end, MaxChunkDays)
		require.Len(t, chunks, 3)

		assert.Equal(t, 90, chunks[0].Days())
		assert.Equal(t, 90, chunks[1].Days())
		assert.Equal(t, 20, chunks[2].Days())

		assert.True(t, chunks[0].Start.Equal(start))
		assert.True(t, chunks[2].End.Equal(end))
	})

	t.Run("range within limit stays a single chunk", func(t *testing.T) {
		start := day(2025, 3, 1)
		end := start.AddDate(0, 0, 89)

		chunks := SplitRange(start, end, MaxChunkDays)
		require.Len(t, chunks, 1)
		assert.Equal(t, 90, chunks[0].Days())
	})

	t.Run("single day", func(t *testing.T) {
		d := day(2025, 6, 15)
		chunks := SplitRange(d, d, MaxChunkDays)
		require.Len(t, chunks, 1)
		assert.Equal(t, 1, chunks[0].Days())
	})

	t.Run("inverted range yields nothing", func(t *testing.T) {
		assert.Empty(t, SplitRange(day(2025, 6, 15), day(2025, 6, 1), MaxChunkDays))
	})

	t.Run("chunks are contiguous non-overlapping and cover the range", func(t *testing.T) {
		for _, totalDays := range []int{1, 89, 90, 91, 180, 200, 365, 3650} {
			start := day(2020, 1, 1)
			end := start.AddDate(0, 0, totalDays-1)

			chunks := SplitRange(start, end, MaxChunkDays)
			wantChunks := (totalDays + MaxChunkDays - 1) / MaxChunkDays
			require.Len(t, chunks, wantChunks, "total days %d", totalDays)

			covered := 0
			for i, c := range chunks {
				require.False(t, c.Start.After(c.End))
				assert.LessOrEqual(t, c.Days(), MaxChunkDays)
				covered += c.Days()

				if i > 0 {
					// Each chunk starts the day after the previous one ends
					assert.True(t, c.Start.Equal(chunks[i-1].End.AddDate(0, 0, 1)),
						"chunk %d not contiguous for total days %d", i, totalDays)
				}
			}
			assert.Equal(t, totalDays, covered, "total days %d", totalDays)
			assert.True(t, chunks[0].Start.Equal(start))
			assert.True(t, chunks[len(chunks)-1].End.Equal(end))
		}
	})

	t.Run("time of day is truncated", func(t *testing.T) {
		start := time.Date(2025, 1, 1, 13, 45, 0, 0, time.UTC)
		end := time.Date(2025, 1, 10, 2, 30, 0, 0, time.UTC)

		chunks := SplitRange(start, end, MaxChunkDays)
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].Start.Equal(day(2025, 1, 1)))
		assert.True(t, chunks[0].End.Equal(day(2025, 1, 10)))
		assert.Equal(t, 10, chunks[0].Days())
	})
}
