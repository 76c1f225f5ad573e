// Package navdata provides storage for per-fund daily NAV price points.
package navdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/domain"
)

// Repository provides access to the nav_prices table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new NAV data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "navdata_repo").Logger(),
	}
}

// UpsertCounts reports the outcome of an upsert batch.
type UpsertCounts struct {
	Inserted int
	Updated  int
	Errors   map[string]string // scheme code -> first error message
}

// UpsertNAVs writes a batch of NAV records keyed by
// (tenant, environment, scheme, date), tracking insert vs update vs error
// counts per record. A single record failure does not abort the batch.
func (r *Repository) UpsertNAVs(tenantID string, env domain.Environment, records []domain.NAVRecord) (UpsertCounts, error) {
	counts := UpsertCounts{Errors: make(map[string]string)}

	tx, err := r.db.Begin()
	if err != nil {
		return counts, &domain.PersistenceError{Op: "begin nav upsert", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	existsStmt, err := tx.Prepare(`
		SELECT 1 FROM nav_prices
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ? AND nav_date = ?`)
	if err != nil {
		return counts, &domain.PersistenceError{Op: "prepare nav exists", Err: err}
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO nav_prices
			(tenant_id, environment, scheme_code, nav_date, nav_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, environment, scheme_code, nav_date)
		DO UPDATE SET nav_value = excluded.nav_value, updated_at = excluded.updated_at`)
	if err != nil {
		return counts, &domain.PersistenceError{Op: "prepare nav upsert", Err: err}
	}
	defer upsertStmt.Close()

	for _, rec := range records {
		dateKey := rec.DateKey()

		var one int
		existed := true
		err := existsStmt.QueryRow(tenantID, string(env), rec.SchemeCode, dateKey).Scan(&one)
		if err == sql.ErrNoRows {
			existed = false
		} else if err != nil {
			recordSchemeError(&counts, rec.SchemeCode, err)
			continue
		}

		if _, err := upsertStmt.Exec(tenantID, string(env), rec.SchemeCode, dateKey, rec.NAV, now, now); err != nil {
			recordSchemeError(&counts, rec.SchemeCode, err)
			continue
		}

		if existed {
			counts.Updated++
		} else {
			counts.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return counts, &domain.PersistenceError{Op: "commit nav upsert", Err: err}
	}

	return counts, nil
}

// ExistsForDate reports, per scheme, whether a NAV row exists on a date.
func (r *Repository) ExistsForDate(tenantID string, env domain.Environment, schemeCodes []string, date time.Time) (map[string]bool, error) {
	out := make(map[string]bool, len(schemeCodes))
	dateKey := date.Format("2006-01-02")

	stmt, err := r.db.Prepare(`
		SELECT 1 FROM nav_prices
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ? AND nav_date = ?`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "prepare nav exists for date", Err: err}
	}
	defer stmt.Close()

	for _, code := range schemeCodes {
		var one int
		err := stmt.QueryRow(tenantID, string(env), code, dateKey).Scan(&one)
		switch err {
		case nil:
			out[code] = true
		case sql.ErrNoRows:
			out[code] = false
		default:
			return nil, &domain.PersistenceError{Op: "query nav exists for date", Err: err}
		}
	}

	return out, nil
}

// GetNAVs returns stored NAV points for a scheme within [start, end], oldest first.
func (r *Repository) GetNAVs(tenantID string, env domain.Environment, schemeCode string, start, end time.Time) ([]domain.NAVRecord, error) {
	rows, err := r.db.Query(`
		SELECT scheme_code, nav_value, nav_date
		FROM nav_prices
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ?
		  AND nav_date >= ? AND nav_date <= ?
		ORDER BY nav_date ASC`,
		tenantID, string(env), schemeCode,
		start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query navs", Err: err}
	}
	defer rows.Close()

	var out []domain.NAVRecord
	for rows.Next() {
		var (
			rec     domain.NAVRecord
			dateKey string
		)
		if err := rows.Scan(&rec.SchemeCode, &rec.NAV, &dateKey); err != nil {
			return nil, &domain.PersistenceError{Op: "scan nav", Err: err}
		}
		t, err := time.Parse("2006-01-02", dateKey)
		if err != nil {
			return nil, fmt.Errorf("malformed nav_date %q: %w", dateKey, err)
		}
		rec.Date = t
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "iterate navs", Err: err}
	}

	return out, nil
}

func recordSchemeError(counts *UpsertCounts, schemeCode string, err error) {
	if _, seen := counts.Errors[schemeCode]; !seen {
		counts.Errors[schemeCode] = err.Error()
	}
}
