package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/domain"
)

// Repository provides access to download job records.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new download job repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "jobs_repo").Logger(),
	}
}

// CreateParams holds the fields needed to create a job record.
type CreateParams struct {
	TenantID    string
	UserID      string
	Environment domain.Environment
	Type        JobType
	SchemeCodes []string
	StartDate   *time.Time
	EndDate     *time.Time
	ParentJobID *string
	ChunkNumber *int
	TotalChunks *int
}

// Create inserts a new job in pending state and returns it.
func (r *Repository) Create(p CreateParams) (*DownloadJob, error) {
	codes, err := json.Marshal(p.SchemeCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scheme codes: %w", err)
	}

	now := time.Now()
	job := &DownloadJob{
		ID:          uuid.NewString(),
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		Environment: p.Environment,
		Type:        p.Type,
		SchemeCodes: p.SchemeCodes,
		Status:      StatusPending,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		ParentJobID: p.ParentJobID,
		ChunkNumber: p.ChunkNumber,
		TotalChunks: p.TotalChunks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.Exec(`
		INSERT INTO download_jobs
			(id, tenant_id, user_id, environment, job_type, scheme_codes, status,
			 start_date, end_date, parent_job_id, chunk_number, total_chunks,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.UserID, string(job.Environment), string(job.Type),
		string(codes), string(job.Status),
		dateOrNil(job.StartDate), dateOrNil(job.EndDate),
		job.ParentJobID, job.ChunkNumber, job.TotalChunks,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create download job", Err: err}
	}

	r.log.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("tenant_id", job.TenantID).
		Msg("Created download job")

	return job, nil
}

// UpdateStatus transitions a job to a new status, optionally recording a
// result summary and error details. Invalid transitions (out of a terminal
// state, or backwards) are rejected.
func (r *Repository) UpdateStatus(jobID string, status Status, summary *ResultSummary, errorDetails string) error {
	current, err := r.Get(jobID)
	if err != nil {
		return err
	}

	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", current.Status, status, jobID)
	}

	var summaryJSON interface{}
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal result summary: %w", err)
		}
		summaryJSON = string(b)
	}

	_, err = r.db.Exec(`
		UPDATE download_jobs
		SET status = ?, result_summary = COALESCE(?, result_summary),
		    error_details = ?, updated_at = ?
		WHERE id = ?`,
		string(status), summaryJSON, nullIfEmpty(errorDetails), time.Now().Unix(), jobID,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "update download job", Err: err}
	}

	return nil
}

// Get fetches one job by id.
func (r *Repository) Get(jobID string) (*DownloadJob, error) {
	row := r.db.QueryRow(selectJobQuery+" WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Resource: "download job", ID: jobID}
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get download job", Err: err}
	}
	return job, nil
}

// List returns jobs matching the filters, newest first.
func (r *Repository) List(f ListFilters) ([]*DownloadJob, error) {
	var (
		conds []string
		args  []interface{}
	)

	if f.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Environment != "" {
		conds = append(conds, "environment = ?")
		args = append(args, string(f.Environment))
	}
	if f.Type != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ParentID != "" {
		conds = append(conds, "parent_job_id = ?")
		args = append(args, f.ParentID)
	}

	query := selectJobQuery
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list download jobs", Err: err}
	}
	defer rows.Close()

	var out []*DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan download job", Err: err}
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "iterate download jobs", Err: err}
	}

	return out, nil
}

// ListChildren returns the chunk jobs of a parent, in chunk order.
func (r *Repository) ListChildren(parentID string) ([]*DownloadJob, error) {
	rows, err := r.db.Query(selectJobQuery+" WHERE parent_job_id = ? ORDER BY chunk_number ASC", parentID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list chunk jobs", Err: err}
	}
	defer rows.Close()

	var out []*DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan chunk job", Err: err}
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "iterate chunk jobs", Err: err}
	}

	return out, nil
}

// RecordCallback stores an inbound execution callback. The callback channel
// is best-effort; polling remains the source of truth.
func (r *Repository) RecordCallback(jobID, executionID, status, result, errMsg string) error {
	_, err := r.db.Exec(`
		INSERT INTO download_callbacks (id, job_id, execution_id, status, result, error, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), jobID, nullIfEmpty(executionID), status,
		nullIfEmpty(result), nullIfEmpty(errMsg), time.Now().Unix(),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "record callback", Err: err}
	}
	return nil
}

const selectJobQuery = `
	SELECT id, tenant_id, user_id, environment, job_type, scheme_codes, status,
	       start_date, end_date, parent_job_id, chunk_number, total_chunks,
	       result_summary, error_details, created_at, updated_at
	FROM download_jobs`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*DownloadJob, error) {
	var (
		job           DownloadJob
		env, jobType  string
		status        string
		userID        sql.NullString
		codesJSON     string
		startDate     sql.NullString
		endDate       sql.NullString
		parentID      sql.NullString
		chunkNumber   sql.NullInt64
		totalChunks   sql.NullInt64
		summaryJSON   sql.NullString
		errorDetails  sql.NullString
		createdAtUnix int64
		updatedAtUnix int64
	)

	err := row.Scan(
		&job.ID, &job.TenantID, &userID, &env, &jobType, &codesJSON, &status,
		&startDate, &endDate, &parentID, &chunkNumber, &totalChunks,
		&summaryJSON, &errorDetails, &createdAtUnix, &updatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	job.UserID = userID.String
	job.Environment = domain.Environment(env)
	job.Type = JobType(jobType)
	job.Status = Status(status)

	if err := json.Unmarshal([]byte(codesJSON), &job.SchemeCodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scheme codes for job %s: %w", job.ID, err)
	}

	if startDate.Valid {
		if t, err := time.Parse("2006-01-02", startDate.String); err == nil {
			job.StartDate = &t
		}
	}
	if endDate.Valid {
		if t, err := time.Parse("2006-01-02", endDate.String); err == nil {
			job.EndDate = &t
		}
	}
	if parentID.Valid {
		job.ParentJobID = &parentID.String
	}
	if chunkNumber.Valid {
		n := int(chunkNumber.Int64)
		job.ChunkNumber = &n
	}
	if totalChunks.Valid {
		n := int(totalChunks.Int64)
		job.TotalChunks = &n
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var summary ResultSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err == nil {
			job.ResultSummary = &summary
		}
	}
	job.ErrorDetails = errorDetails.String
	job.CreatedAt = time.Unix(createdAtUnix, 0)
	job.UpdatedAt = time.Unix(updatedAtUnix, 0)

	return &job, nil
}

func dateOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
