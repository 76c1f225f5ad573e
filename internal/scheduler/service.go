// Package scheduler owns the recurring per-tenant download configurations:
// cron validation, timer lifecycle, firing the external workflow, and the
// execution history. At most one timer exists per (tenant, user,
// environment) identity.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/clients/workflow"
	"github.com/aristath/navhub/internal/domain"
)

// WorkflowTrigger invokes the external automation webhook.
// Implemented by workflow.Client.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, webhookURL string, req workflow.TriggerRequest) (string, error)
}

// Service manages scheduler configurations and their timers.
type Service struct {
	repo            *Repository
	trigger         WorkflowTrigger
	callbackBaseURL string
	log             zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// NewService creates the scheduler service. Timers use standard 5-field
// cron expressions.
func NewService(repo *Repository, trigger WorkflowTrigger, callbackBaseURL string, log zerolog.Logger) *Service {
	return &Service{
		repo:            repo,
		trigger:         trigger,
		callbackBaseURL: callbackBaseURL,
		log:             log.With().Str("service", "scheduler").Logger(),
		cron:            cron.New(),
		entries:         map[string]cron.EntryID{},
	}
}

// SaveConfig validates and persists a configuration and (re)starts its
// timer. Re-saving always stops any prior timer for the same identity first.
func (s *Service) SaveConfig(cfg *Config) (*Config, error) {
	if cfg.TenantID == "" {
		return nil, &domain.ValidationError{Field: "tenant_id", Message: "tenant id is required"}
	}
	if cfg.UserID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if !cfg.ScheduleType.Valid() {
		return nil, &domain.ValidationError{Field: "schedule_type", Message: fmt.Sprintf("unknown schedule type %q", cfg.ScheduleType)}
	}

	schedule, err := cron.ParseStandard(cfg.CronExpression)
	if err != nil {
		return nil, &domain.ValidationError{
			Field:   "cron_expression",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.CronExpression, err),
		}
	}

	if cfg.Enabled {
		next := schedule.Next(time.Now())
		cfg.NextExecutionAt = &next
	} else {
		cfg.NextExecutionAt = nil
	}

	saved, err := s.repo.SaveConfig(cfg)
	if err != nil {
		return nil, err
	}

	s.stopTimer(saved.Identity())
	if saved.Enabled {
		if err := s.startTimer(saved); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("config_id", saved.ID).
		Str("tenant_id", saved.TenantID).
		Str("cron", saved.CronExpression).
		Bool("enabled", saved.Enabled).
		Msg("Scheduler config saved")

	return saved, nil
}

// GetConfig returns a tenant's configuration.
func (s *Service) GetConfig(tenantID, userID string, env domain.Environment) (*Config, error) {
	return s.repo.GetConfig(tenantID, userID, env)
}

// DeleteConfig removes a configuration and stops its timer.
func (s *Service) DeleteConfig(id string) error {
	cfg, err := s.repo.GetConfigByID(id)
	if err != nil {
		return err
	}

	s.stopTimer(cfg.Identity())

	if err := s.repo.DeleteConfig(id); err != nil {
		return err
	}

	s.log.Info().Str("config_id", id).Str("tenant_id", cfg.TenantID).Msg("Scheduler config deleted")
	return nil
}

// GetStatus returns the configuration, its timer state and recent history.
func (s *Service) GetStatus(tenantID, userID string, env domain.Environment) (*Status, error) {
	cfg, err := s.repo.GetConfig(tenantID, userID, env)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.RecentExecutions(cfg.ID, 10)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, active := s.entries[cfg.Identity()]
	s.mu.Unlock()

	return &Status{Config: cfg, TimerActive: active, RecentExecutions: recent}, nil
}

// ManualTrigger fires a configuration immediately, outside its schedule.
func (s *Service) ManualTrigger(ctx context.Context, configID string) (*Execution, error) {
	cfg, err := s.repo.GetConfigByID(configID)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, cfg, workflow.SourceManual)
}

// InitializeAll activates every enabled configuration at process start.
// One configuration's activation error is logged and skipped, never
// aborting the remaining activations.
func (s *Service) InitializeAll() error {
	configs, err := s.repo.ListEnabled()
	if err != nil {
		return err
	}

	activated := 0
	for _, cfg := range configs {
		if err := s.startTimer(cfg); err != nil {
			s.log.Error().
				Err(err).
				Str("config_id", cfg.ID).
				Str("tenant_id", cfg.TenantID).
				Msg("Failed to activate scheduler config, skipping")
			continue
		}
		activated++
	}

	s.mu.Lock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	s.mu.Unlock()

	s.log.Info().
		Int("configs", len(configs)).
		Int("activated", activated).
		Msg("Scheduler initialized")
	return nil
}

// ShutdownAll stops every active timer and waits for in-flight fires.
// Safe to call more than once.
func (s *Service) ShutdownAll() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.entries = map[string]cron.EntryID{}
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	<-stopCtx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// startTimer registers a cron entry for a configuration. The callback loads
// the configuration fresh at fire time so edits between fires are honored.
func (s *Service) startTimer(cfg *Config) error {
	configID := cfg.ID

	entryID, err := s.cron.AddFunc(cfg.CronExpression, func() {
		current, err := s.repo.GetConfigByID(configID)
		if err != nil {
			s.log.Error().Err(err).Str("config_id", configID).Msg("Scheduled fire could not load config")
			return
		}
		if !current.Enabled {
			return
		}
		if _, err := s.fire(context.Background(), current, workflow.SourceScheduled); err != nil {
			s.log.Error().Err(err).Str("config_id", configID).Msg("Scheduled fire failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register timer: %w", err)
	}

	s.mu.Lock()
	s.entries[cfg.Identity()] = entryID
	s.mu.Unlock()
	return nil
}

// stopTimer removes the timer for an identity, if one exists.
func (s *Service) stopTimer(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[identity]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, identity)
	}
}

// fire performs one execution: history row, config bookkeeping, webhook
// call, outcome recording. A failure increments the failure counter but
// leaves the schedule enabled.
func (s *Service) fire(ctx context.Context, cfg *Config, source workflow.TriggerSource) (*Execution, error) {
	began := time.Now()

	exec := &Execution{
		ConfigID:      cfg.ID,
		TenantID:      cfg.TenantID,
		ExecutedAt:    began,
		Status:        ExecutionRunning,
		TriggerSource: string(source),
	}
	if err := s.repo.CreateExecution(exec); err != nil {
		return nil, err
	}

	var next *time.Time
	if schedule, err := cron.ParseStandard(cfg.CronExpression); err == nil {
		n := schedule.Next(began)
		next = &n
	}
	if err := s.repo.RecordFire(cfg.ID, began, next); err != nil {
		s.log.Warn().Err(err).Str("config_id", cfg.ID).Msg("Failed to record fire on config")
	}

	executionID, err := s.trigger.Trigger(ctx, cfg.WebhookURL, workflow.TriggerRequest{
		TenantID:          cfg.TenantID,
		UserID:            cfg.UserID,
		IsLive:            cfg.Environment == domain.EnvLive,
		ScheduleType:      string(cfg.ScheduleType),
		TriggerSource:     source,
		APICallbackURL:    s.callbackBaseURL + "/api/callbacks/download",
		SchedulerConfigID: cfg.ID,
	})

	elapsed := time.Since(began)
	if err != nil {
		if recErr := s.repo.FinishExecution(exec.ID, ExecutionFailed, "", err.Error(), elapsed); recErr != nil {
			s.log.Warn().Err(recErr).Str("execution_id", exec.ID).Msg("Failed to record execution failure")
		}
		if recErr := s.repo.IncrementFailureCount(cfg.ID); recErr != nil {
			s.log.Warn().Err(recErr).Str("config_id", cfg.ID).Msg("Failed to increment failure count")
		}
		exec.Status = ExecutionFailed
		exec.ErrorMessage = err.Error()
		exec.DurationMS = elapsed.Milliseconds()

		s.log.Error().
			Err(err).
			Str("config_id", cfg.ID).
			Str("tenant_id", cfg.TenantID).
			Str("trigger_source", string(source)).
			Msg("Schedule execution failed")
		return exec, err
	}

	if recErr := s.repo.FinishExecution(exec.ID, ExecutionSuccess, executionID, "", elapsed); recErr != nil {
		s.log.Warn().Err(recErr).Str("execution_id", exec.ID).Msg("Failed to record execution success")
	}
	exec.Status = ExecutionSuccess
	exec.ExternalExecutionID = executionID
	exec.DurationMS = elapsed.Milliseconds()

	s.log.Info().
		Str("config_id", cfg.ID).
		Str("tenant_id", cfg.TenantID).
		Str("execution_id", executionID).
		Str("trigger_source", string(source)).
		Dur("elapsed", elapsed).
		Msg("Schedule executed")
	return exec, nil
}
