// Package schemes provides the scheme catalog: which fund schemes a tenant
// tracks and their historical backfill state.
package schemes

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/domain"
)

// Scheme is one tracked fund scheme for a tenant.
type Scheme struct {
	TenantID                   string
	Environment                domain.Environment
	SchemeCode                 string
	SchemeName                 string
	FundHouse                  string
	ISIN                       string
	HistoricalBackfillComplete bool
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// Repository provides access to the schemes table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new scheme repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "schemes_repo").Logger(),
	}
}

// Upsert writes a scheme record, preserving the backfill flag on update.
func (r *Repository) Upsert(s Scheme) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO schemes
			(tenant_id, environment, scheme_code, scheme_name, fund_house, isin,
			 historical_backfill_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, environment, scheme_code)
		DO UPDATE SET scheme_name = excluded.scheme_name,
		              fund_house = excluded.fund_house,
		              isin = excluded.isin,
		              updated_at = excluded.updated_at`,
		s.TenantID, string(s.Environment), s.SchemeCode, s.SchemeName,
		s.FundHouse, s.ISIN, boolToInt(s.HistoricalBackfillComplete), now, now,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "upsert scheme", Err: err}
	}
	return nil
}

// Get fetches one scheme.
func (r *Repository) Get(tenantID string, env domain.Environment, schemeCode string) (*Scheme, error) {
	row := r.db.QueryRow(`
		SELECT tenant_id, environment, scheme_code, scheme_name,
		       COALESCE(fund_house, ''), COALESCE(isin, ''),
		       historical_backfill_complete, created_at, updated_at
		FROM schemes
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ?`,
		tenantID, string(env), schemeCode,
	)

	var (
		s        Scheme
		envStr   string
		complete int
		created  int64
		updated  int64
	)
	err := row.Scan(&s.TenantID, &envStr, &s.SchemeCode, &s.SchemeName,
		&s.FundHouse, &s.ISIN, &complete, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Resource: "scheme", ID: schemeCode}
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get scheme", Err: err}
	}

	s.Environment = domain.Environment(envStr)
	s.HistoricalBackfillComplete = complete != 0
	s.CreatedAt = time.Unix(created, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	return &s, nil
}

// ListCodes returns all scheme codes tracked by a tenant.
func (r *Repository) ListCodes(tenantID string, env domain.Environment) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT scheme_code FROM schemes
		WHERE tenant_id = ? AND environment = ?
		ORDER BY scheme_code`,
		tenantID, string(env),
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list scheme codes", Err: err}
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, &domain.PersistenceError{Op: "scan scheme code", Err: err}
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "iterate scheme codes", Err: err}
	}

	return codes, nil
}

// BackfillComplete reports, per scheme, whether historical backfill already
// finished. Used to short-circuit duplicate backfill requests.
func (r *Repository) BackfillComplete(tenantID string, env domain.Environment, schemeCodes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(schemeCodes))

	stmt, err := r.db.Prepare(`
		SELECT historical_backfill_complete FROM schemes
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ?`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "prepare backfill lookup", Err: err}
	}
	defer stmt.Close()

	for _, code := range schemeCodes {
		var complete int
		err := stmt.QueryRow(tenantID, string(env), code).Scan(&complete)
		switch err {
		case nil:
			out[code] = complete != 0
		case sql.ErrNoRows:
			out[code] = false
		default:
			return nil, &domain.PersistenceError{Op: "query backfill flag", Err: err}
		}
	}

	return out, nil
}

// MarkBackfillComplete flags schemes whose historical backfill finished, so
// future requests can short-circuit.
func (r *Repository) MarkBackfillComplete(tenantID string, env domain.Environment, schemeCodes []string) error {
	stmt, err := r.db.Prepare(`
		UPDATE schemes SET historical_backfill_complete = 1, updated_at = ?
		WHERE tenant_id = ? AND environment = ? AND scheme_code = ?`)
	if err != nil {
		return &domain.PersistenceError{Op: "prepare backfill update", Err: err}
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, code := range schemeCodes {
		if _, err := stmt.Exec(now, tenantID, string(env), code); err != nil {
			return &domain.PersistenceError{Op: "mark backfill complete", Err: err}
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
