package clientdata

import (
	"github.com/rs/zerolog"
)

// CleanupJob prunes expired payloads from the cache tables. Meant to run on a
// short interval so stale daily data does not linger past its TTL.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run deletes every expired row across the allowed tables.
func (j *CleanupJob) Run() error {
	deleted, err := j.repo.DeleteAllExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired cache entries")
		return err
	}

	var total int64
	for _, count := range deleted {
		total += count
	}
	if total > 0 {
		j.log.Info().
			Int64("daily", deleted[TableDailyNAV]).
			Int64("historical", deleted[TableHistoricalNAV]).
			Int64("total", total).
			Msg("Cache cleanup completed")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
