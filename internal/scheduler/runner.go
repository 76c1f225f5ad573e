package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a recurring maintenance task.
type Job interface {
	Run() error
	Name() string
}

// Runner executes internal maintenance jobs (cache cleanup, backups, WAL
// checkpoints) on fixed cron schedules. Tenant download schedules are the
// Service's concern, not the Runner's.
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		cron: cron.New(),
		log:  log.With().Str("component", "maintenance_runner").Logger(),
	}
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Msg("Maintenance runner started")
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info().Msg("Maintenance runner stopped")
}

// AddJob registers a job with a standard 5-field cron schedule.
// Schedule examples:
//   - "*/30 * * * *" - Every 30 minutes
//   - "0 3 * * *"    - 3 AM daily
//   - "@hourly"      - Every hour
func (r *Runner) AddJob(schedule string, job Job) error {
	_, err := r.cron.AddFunc(schedule, func() {
		r.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			r.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			r.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})

	if err != nil {
		return err
	}

	r.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (r *Runner) RunNow(job Job) error {
	r.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
