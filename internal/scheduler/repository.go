package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/domain"
)

// Repository persists scheduler configurations and execution history in the
// catalog database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "scheduler").Logger(),
	}
}

// SaveConfig inserts or replaces the configuration for the config's
// (tenant, user, environment) identity. Counters survive an update.
func (r *Repository) SaveConfig(cfg *Config) (*Config, error) {
	now := time.Now()

	existing, err := r.GetConfig(cfg.TenantID, cfg.UserID, cfg.Environment)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); !ok {
			return nil, err
		}
	}

	if existing == nil {
		cfg.ID = uuid.New().String()
		cfg.CreatedAt = now
		cfg.UpdatedAt = now

		_, err = r.db.Exec(`
			INSERT INTO scheduler_configs
				(id, tenant_id, user_id, environment, schedule_type, cron_expression,
				 preferred_time, webhook_url, enabled, next_execution_at,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.ID, cfg.TenantID, cfg.UserID, string(cfg.Environment),
			string(cfg.ScheduleType), cfg.CronExpression, cfg.PreferredTime,
			cfg.WebhookURL, boolToInt(cfg.Enabled), unixOrNil(cfg.NextExecutionAt),
			now.Unix(), now.Unix(),
		)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "save scheduler config", Err: err}
		}
		return cfg, nil
	}

	cfg.ID = existing.ID
	cfg.ExecutionCount = existing.ExecutionCount
	cfg.FailureCount = existing.FailureCount
	cfg.LastExecutedAt = existing.LastExecutedAt
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = now

	_, err = r.db.Exec(`
		UPDATE scheduler_configs
		SET schedule_type = ?, cron_expression = ?, preferred_time = ?,
		    webhook_url = ?, enabled = ?, next_execution_at = ?, updated_at = ?
		WHERE id = ?`,
		string(cfg.ScheduleType), cfg.CronExpression, cfg.PreferredTime,
		cfg.WebhookURL, boolToInt(cfg.Enabled), unixOrNil(cfg.NextExecutionAt),
		now.Unix(), cfg.ID,
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "save scheduler config", Err: err}
	}
	return cfg, nil
}

// GetConfig looks up the configuration for a (tenant, user, environment).
func (r *Repository) GetConfig(tenantID, userID string, env domain.Environment) (*Config, error) {
	row := r.db.QueryRow(selectConfigQuery+`
		WHERE tenant_id = ? AND user_id = ? AND environment = ?`,
		tenantID, userID, string(env),
	)
	return r.scanConfig(row)
}

// GetConfigByID looks up a configuration by its primary key.
func (r *Repository) GetConfigByID(id string) (*Config, error) {
	row := r.db.QueryRow(selectConfigQuery+` WHERE id = ?`, id)
	return r.scanConfig(row)
}

// ListEnabled returns every enabled configuration, for startup activation.
func (r *Repository) ListEnabled() ([]*Config, error) {
	rows, err := r.db.Query(selectConfigQuery + ` WHERE enabled = 1 ORDER BY tenant_id, user_id`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list enabled scheduler configs", Err: err}
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// DeleteConfig removes a configuration. Execution history is kept.
func (r *Repository) DeleteConfig(id string) error {
	res, err := r.db.Exec(`DELETE FROM scheduler_configs WHERE id = ?`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete scheduler config", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "scheduler config", ID: id}
	}
	return nil
}

// RecordFire updates a config's execution bookkeeping when a timer fires.
func (r *Repository) RecordFire(configID string, executedAt time.Time, next *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE scheduler_configs
		SET last_executed_at = ?, next_execution_at = ?,
		    execution_count = execution_count + 1, updated_at = ?
		WHERE id = ?`,
		executedAt.Unix(), unixOrNil(next), time.Now().Unix(), configID,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "record schedule fire", Err: err}
	}
	return nil
}

// IncrementFailureCount bumps the failure counter without touching the
// enabled flag. A failed run never disables future runs.
func (r *Repository) IncrementFailureCount(configID string) error {
	_, err := r.db.Exec(`
		UPDATE scheduler_configs
		SET failure_count = failure_count + 1, updated_at = ?
		WHERE id = ?`,
		time.Now().Unix(), configID,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "increment failure count", Err: err}
	}
	return nil
}

// CreateExecution appends a history row for one fire.
func (r *Repository) CreateExecution(exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO schedule_executions
			(id, config_id, tenant_id, executed_at, status, trigger_source,
			 external_execution_id, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ConfigID, exec.TenantID, exec.ExecutedAt.Unix(),
		string(exec.Status), exec.TriggerSource,
		nullIfEmpty(exec.ExternalExecutionID), nullIfEmpty(exec.ErrorMessage),
		exec.DurationMS,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "create schedule execution", Err: err}
	}
	return nil
}

// FinishExecution records the outcome of a fire on its history row.
func (r *Repository) FinishExecution(id string, status ExecutionStatus, externalExecutionID, errorMessage string, duration time.Duration) error {
	_, err := r.db.Exec(`
		UPDATE schedule_executions
		SET status = ?, external_execution_id = ?, error_message = ?, duration_ms = ?
		WHERE id = ?`,
		string(status), nullIfEmpty(externalExecutionID), nullIfEmpty(errorMessage),
		duration.Milliseconds(), id,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "finish schedule execution", Err: err}
	}
	return nil
}

// RecentExecutions returns the newest history rows for a configuration.
func (r *Repository) RecentExecutions(configID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(`
		SELECT id, config_id, tenant_id, executed_at, status, trigger_source,
		       external_execution_id, error_message, duration_ms
		FROM schedule_executions
		WHERE config_id = ?
		ORDER BY executed_at DESC
		LIMIT ?`,
		configID, limit,
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list schedule executions", Err: err}
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		var (
			exec       Execution
			executedAt int64
			status     string
			extID      sql.NullString
			errMsg     sql.NullString
			durationMS sql.NullInt64
		)
		if err := rows.Scan(&exec.ID, &exec.ConfigID, &exec.TenantID, &executedAt,
			&status, &exec.TriggerSource, &extID, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan schedule execution: %w", err)
		}
		exec.ExecutedAt = time.Unix(executedAt, 0)
		exec.Status = ExecutionStatus(status)
		exec.ExternalExecutionID = extID.String
		exec.ErrorMessage = errMsg.String
		exec.DurationMS = durationMS.Int64
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

const selectConfigQuery = `
	SELECT id, tenant_id, user_id, environment, schedule_type, cron_expression,
	       preferred_time, webhook_url, enabled, next_execution_at,
	       last_executed_at, execution_count, failure_count, created_at, updated_at
	FROM scheduler_configs`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanConfig(row rowScanner) (*Config, error) {
	var (
		cfg           Config
		env           string
		scheduleType  string
		preferredTime sql.NullString
		enabled       int
		nextAt        sql.NullInt64
		lastAt        sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)

	err := row.Scan(&cfg.ID, &cfg.TenantID, &cfg.UserID, &env, &scheduleType,
		&cfg.CronExpression, &preferredTime, &cfg.WebhookURL, &enabled,
		&nextAt, &lastAt, &cfg.ExecutionCount, &cfg.FailureCount,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Resource: "scheduler config", ID: ""}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduler config: %w", err)
	}

	cfg.Environment = domain.Environment(env)
	cfg.ScheduleType = ScheduleType(scheduleType)
	cfg.PreferredTime = preferredTime.String
	cfg.Enabled = enabled != 0
	cfg.NextExecutionAt = timeOrNil(nextAt)
	cfg.LastExecutedAt = timeOrNil(lastAt)
	cfg.CreatedAt = time.Unix(createdAt, 0)
	cfg.UpdatedAt = time.Unix(updatedAt, 0)
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
