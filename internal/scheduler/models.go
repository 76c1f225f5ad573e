package scheduler

import (
	"time"

	"github.com/aristath/navhub/internal/domain"
)

// ScheduleType is the cadence of a recurring configuration.
type ScheduleType string

const (
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleCustom ScheduleType = "custom"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleDaily, ScheduleWeekly, ScheduleCustom:
		return true
	}
	return false
}

// ExecutionStatus is the outcome recorded for one schedule fire.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Config is one tenant's recurring download configuration. At most one
// exists per (tenant, user, environment).
type Config struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	UserID          string             `json:"user_id"`
	Environment     domain.Environment `json:"environment"`
	ScheduleType    ScheduleType       `json:"schedule_type"`
	CronExpression  string             `json:"cron_expression"`
	PreferredTime   string             `json:"preferred_time,omitempty"`
	WebhookURL      string             `json:"webhook_url"`
	Enabled         bool               `json:"enabled"`
	NextExecutionAt *time.Time         `json:"next_execution_at,omitempty"`
	LastExecutedAt  *time.Time         `json:"last_executed_at,omitempty"`
	ExecutionCount  int                `json:"execution_count"`
	FailureCount    int                `json:"failure_count"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Identity returns the timer identity key for this configuration.
func (c *Config) Identity() string {
	return c.TenantID + "|" + c.UserID + "|" + string(c.Environment)
}

// Execution is one append-only history row per schedule fire.
type Execution struct {
	ID                  string          `json:"id"`
	ConfigID            string          `json:"config_id"`
	TenantID            string          `json:"tenant_id"`
	ExecutedAt          time.Time       `json:"executed_at"`
	Status              ExecutionStatus `json:"status"`
	TriggerSource       string          `json:"trigger_source"`
	ExternalExecutionID string          `json:"external_execution_id,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	DurationMS          int64           `json:"duration_ms"`
}

// Status is the live view of one configuration: the durable record plus
// the in-process timer state and recent history.
type Status struct {
	Config           *Config     `json:"config"`
	TimerActive      bool        `json:"timer_active"`
	RecentExecutions []Execution `json:"recent_executions"`
}
