package amfi

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/navhub/internal/domain"
)

// Daily payloads are semicolon-delimited with a header row mapping column
// names to positions. Historical report payloads are 8 fixed columns; the two
// ISIN columns and the repurchase/sale price columns are skipped.
const (
	dailyColumnCount      = 6
	historicalColumnCount = 8

	navDateLayout = "02-Jan-2006" // DD-MMM-YYYY
)

// invalidBatchThresholdPct rejects a batch wholesale when more than this
// percentage of parsed rows is missing code, name, value or date.
const invalidBatchThresholdPct = 10

// parseStats carries row accounting for the data-quality gate.
type parseStats struct {
	Total   int
	Invalid int
}

// exceedsInvalidThreshold reports whether the batch should be rejected.
func (s parseStats) exceedsInvalidThreshold() bool {
	if s.Total == 0 {
		return false
	}
	return s.Invalid*100 > s.Total*invalidBatchThresholdPct
}

// parseDaily parses the full daily snapshot payload.
// Section header lines (fund house names) and malformed rows are skipped;
// rows missing required fields count toward the data-quality threshold.
func parseDaily(payload []byte) ([]domain.NAVRecord, parseStats) {
	var (
		records []domain.NAVRecord
		stats   parseStats
		columns map[string]int
	)

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ";")
		if len(fields) < dailyColumnCount {
			// Fund house section headers and free-text lines
			continue
		}

		// First full-width row is the header
		if columns == nil {
			columns = mapDailyHeader(fields)
			continue
		}

		stats.Total++

		code := strings.TrimSpace(fields[columnIndex(columns, "scheme code", 0)])
		name := strings.TrimSpace(fields[columnIndex(columns, "scheme name", 3)])
		isin := strings.TrimSpace(fields[columnIndex(columns, "isin div payout/ isin growth", 1)])
		navRaw := fields[columnIndex(columns, "net asset value", 4)]
		dateRaw := fields[columnIndex(columns, "date", 5)]

		nav, navOK := parseNAVValue(navRaw)
		date, dateOK := parseNAVDate(dateRaw)

		if code == "" || name == "" || !navOK || !dateOK {
			stats.Invalid++
			continue
		}

		records = append(records, domain.NAVRecord{
			SchemeCode: code,
			SchemeName: name,
			ISIN:       normalizeISIN(isin),
			NAV:        nav,
			Date:       date,
		})
	}

	return records, stats
}

// parseHistorical parses an 8-column historical report payload.
// Used columns: 0 scheme code, 1 scheme name, 4 net asset value, 7 date.
func parseHistorical(payload []byte) ([]domain.NAVRecord, parseStats) {
	var (
		records []domain.NAVRecord
		stats   parseStats
	)

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ";")
		if len(fields) < historicalColumnCount {
			continue
		}

		if !sawHeader {
			sawHeader = true
			continue
		}

		stats.Total++

		code := strings.TrimSpace(fields[0])
		name := strings.TrimSpace(fields[1])
		nav, navOK := parseNAVValue(fields[4])
		date, dateOK := parseNAVDate(fields[7])

		if code == "" || name == "" || !navOK || !dateOK {
			stats.Invalid++
			continue
		}

		records = append(records, domain.NAVRecord{
			SchemeCode: code,
			SchemeName: name,
			NAV:        nav,
			Date:       date,
		})
	}

	return records, stats
}

// mapDailyHeader maps lower-cased column names to their positions.
func mapDailyHeader(fields []string) map[string]int {
	columns := make(map[string]int, len(fields))
	for i, f := range fields {
		columns[strings.ToLower(strings.TrimSpace(f))] = i
	}
	return columns
}

// columnIndex resolves a header name to a column position with a fixed
// fallback for payloads whose header names drift.
func columnIndex(columns map[string]int, name string, fallback int) int {
	if idx, ok := columns[name]; ok {
		return idx
	}
	return fallback
}

// parseNAVValue parses a numeric NAV field. Blank, "-" and "N.A." mean
// "no value" and exclude the row; they are never coerced to zero.
func parseNAVValue(raw string) (float64, bool) {
	v := strings.TrimSpace(raw)
	switch v {
	case "", "-", "N.A.", "N.A", "NA":
		return 0, false
	}
	// Some payloads carry thousands separators
	v = strings.ReplaceAll(v, ",", "")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

// parseNAVDate parses a DD-MMM-YYYY date. The parsed value is formatted back
// and compared against the input so an impossible calendar date (30-Feb) is
// rejected rather than rolled over.
func parseNAVDate(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(navDateLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	if !strings.EqualFold(t.Format(navDateLayout), v) {
		return time.Time{}, false
	}
	return t, true
}

// normalizeISIN drops placeholder ISIN values.
func normalizeISIN(raw string) string {
	switch raw {
	case "-", "N.A.", "N.A", "NA":
		return ""
	}
	return raw
}
