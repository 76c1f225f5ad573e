package amfi

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dailyHeader = "Scheme Code;ISIN Div Payout/ ISIN Growth;ISIN Div Reinvestment;Scheme Name;Net Asset Value;Date"

func dailyPayload(rows ...string) []byte {
	return []byte(dailyHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

func TestParseDaily(t *testing.T) {
	t.Run("parses valid rows", func(t *testing.T) {
		records, stats := parseDaily(dailyPayload(
			"100001;INF123A01010;INF123A01028;Acme Growth Fund;45.6789;28-Aug-2026",
			"100002;INF456B01012;-;Beta Liquid Fund;1032.5510;28-Aug-2026",
		))

		require.Len(t, records, 2)
		assert.Equal(t, 2, stats.Total)
		assert.Equal(t, 0, stats.Invalid)

		assert.Equal(t, "100001", records[0].SchemeCode)
		assert.Equal(t, "Acme Growth Fund", records[0].SchemeName)
		assert.Equal(t, "INF123A01010", records[0].ISIN)
		assert.InDelta(t, 45.6789, records[0].NAV, 1e-9)
		assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), records[0].Date)
	})

	t.Run("skips fund house section headers", func(t *testing.T) {
		payload := []byte(dailyHeader + "\n" +
			"Open Ended Schemes(Debt Scheme)\n" +
			"Acme Mutual Fund\n" +
			"100001;INF123A01010;-;Acme Growth Fund;45.67;28-Aug-2026\n")

		records, stats := parseDaily(payload)
		require.Len(t, records, 1)
		assert.Equal(t, 1, stats.Total)
	})

	t.Run("NA value excludes row instead of coercing to zero", func(t *testing.T) {
		records, stats := parseDaily(dailyPayload(
			"100001;INF123A01010;-;Acme Growth Fund;N.A.;28-Aug-2026",
			"100002;INF456B01012;-;Beta Liquid Fund;10.5;28-Aug-2026",
		))

		require.Len(t, records, 1)
		assert.Equal(t, "100002", records[0].SchemeCode)
		assert.Equal(t, 1, stats.Invalid)
		for _, r := range records {
			assert.NotZero(t, r.NAV)
		}
	})

	t.Run("impossible calendar date discards row", func(t *testing.T) {
		records, stats := parseDaily(dailyPayload(
			"100001;INF123A01010;-;Acme Growth Fund;45.67;30-Feb-2024",
		))

		assert.Empty(t, records)
		assert.Equal(t, 1, stats.Invalid)
	})

	t.Run("placeholder ISIN normalized to empty", func(t *testing.T) {
		records, _ := parseDaily(dailyPayload(
			"100001;-;-;Acme Growth Fund;45.67;28-Aug-2026",
		))
		require.Len(t, records, 1)
		assert.Empty(t, records[0].ISIN)
	})
}

func TestParseDailyQualityThreshold(t *testing.T) {
	t.Run("under ten percent invalid passes", func(t *testing.T) {
		rows := make([]string, 0, 20)
		for i := 0; i < 19; i++ {
			rows = append(rows, "100001;INF123A01010;-;Acme Growth Fund;45.67;28-Aug-2026")
		}
		rows = append(rows, "100002;INF456B01012;-;Beta Liquid Fund;N.A.;28-Aug-2026")

		_, stats := parseDaily(dailyPayload(rows...))
		assert.Equal(t, 20, stats.Total)
		assert.Equal(t, 1, stats.Invalid)
		assert.False(t, stats.exceedsInvalidThreshold())
	})

	t.Run("over ten percent invalid rejects batch", func(t *testing.T) {
		rows := make([]string, 0, 10)
		for i := 0; i < 8; i++ {
			rows = append(rows, "100001;INF123A01010;-;Acme Growth Fund;45.67;28-Aug-2026")
		}
		rows = append(rows,
			"100002;INF456B01012;-;Beta Liquid Fund;N.A.;28-Aug-2026",
			"100003;INF789C01014;-;Gamma Bond Fund;;28-Aug-2026",
		)

		_, stats := parseDaily(dailyPayload(rows...))
		assert.Equal(t, 10, stats.Total)
		assert.Equal(t, 2, stats.Invalid)
		assert.True(t, stats.exceedsInvalidThreshold())
	})

	t.Run("exactly ten percent passes", func(t *testing.T) {
		stats := parseStats{Total: 10, Invalid: 1}
		assert.False(t, stats.exceedsInvalidThreshold())
	})

	t.Run("empty batch passes", func(t *testing.T) {
		assert.False(t, parseStats{}.exceedsInvalidThreshold())
	})
}

func TestParseHistorical(t *testing.T) {
	header := "Scheme Code;Scheme Name;ISIN Div Payout/ISIN Growth;ISIN Div Reinvestment;Net Asset Value;Repurchase Price;Sale Price;Date"

	t.Run("uses code name value and date columns", func(t *testing.T) {
		payload := []byte(header + "\n" +
			"100001;Acme Growth Fund;INF123A01010;INF123A01028;45.6789;45.50;45.80;15-Jan-2026\n" +
			"100001;Acme Growth Fund;INF123A01010;INF123A01028;45.9912;45.70;46.00;16-Jan-2026\n")

		records, stats := parseHistorical(payload)
		require.Len(t, records, 2)
		assert.Equal(t, 0, stats.Invalid)

		assert.Equal(t, "100001", records[0].SchemeCode)
		assert.Equal(t, "Acme Growth Fund", records[0].SchemeName)
		assert.InDelta(t, 45.6789, records[0].NAV, 1e-9)
		assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), records[0].Date)
	})

	t.Run("short rows are skipped without counting", func(t *testing.T) {
		payload := []byte(header + "\n" +
			"Open Ended Schemes\n" +
			"100001;Acme Growth Fund;INF123A01010;INF123A01028;45.67;45.50;45.80;15-Jan-2026\n")

		records, stats := parseHistorical(payload)
		require.Len(t, records, 1)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestParseNAVValue(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"45.6789", 45.6789, true},
		{"1,032.5510", 1032.5510, true},
		{" 10.5 ", 10.5, true},
		{"", 0, false},
		{"-", 0, false},
		{"N.A.", 0, false},
		{"NA", 0, false},
		{"0", 0, false},
		{"-1.5", 0, false},
		{"abc", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseNAVValue(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, "raw=%q", tc.raw)
		}
	}
}

func TestParseNAVDate(t *testing.T) {
	t.Run("valid date", func(t *testing.T) {
		d, ok := parseNAVDate("28-Aug-2026")
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), d)
	})

	t.Run("impossible date parses to no date", func(t *testing.T) {
		_, ok := parseNAVDate("30-Feb-2024")
		assert.False(t, ok)
	})

	t.Run("empty and garbage", func(t *testing.T) {
		_, ok := parseNAVDate("")
		assert.False(t, ok)
		_, ok = parseNAVDate("2026-08-28")
		assert.False(t, ok)
	})
}
