package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navhub/internal/database"
	"github.com/aristath/navhub/internal/domain"
	"github.com/aristath/navhub/pkg/logger"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "catalog.db"),
		Profile: database.ProfileStandard,
		Name:    "catalog",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewRepository(db.Conn(), logger.New(logger.Config{Level: "error"}))
}

func testConfig(tenant, user string) *Config {
	return &Config{
		TenantID:       tenant,
		UserID:         user,
		Environment:    domain.EnvLive,
		ScheduleType:   ScheduleDaily,
		CronExpression: "30 18 * * *",
		PreferredTime:  "18:30",
		WebhookURL:     "https://workflows.example.com/hooks/nav-download",
		Enabled:        true,
	}
}

func TestSaveConfig(t *testing.T) {
	t.Run("insert assigns an id and round-trips", func(t *testing.T) {
		repo := newTestRepo(t)

		saved, err := repo.SaveConfig(testConfig("t1", "u1"))
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)

		got, err := repo.GetConfig("t1", "u1", domain.EnvLive)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, got.ID)
		assert.Equal(t, ScheduleDaily, got.ScheduleType)
		assert.Equal(t, "30 18 * * *", got.CronExpression)
		assert.Equal(t, "18:30", got.PreferredTime)
		assert.True(t, got.Enabled)
		assert.Equal(t, 0, got.ExecutionCount)
	})

	t.Run("update keeps the id and counters", func(t *testing.T) {
		repo := newTestRepo(t)

		saved, err := repo.SaveConfig(testConfig("t1", "u1"))
		require.NoError(t, err)
		require.NoError(t, repo.RecordFire(saved.ID, time.Now(), nil))

		update := testConfig("t1", "u1")
		update.CronExpression = "0 9 * * 1"
		update.ScheduleType = ScheduleWeekly
		resaved, err := repo.SaveConfig(update)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, resaved.ID)

		got, err := repo.GetConfigByID(saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "0 9 * * 1", got.CronExpression)
		assert.Equal(t, ScheduleWeekly, got.ScheduleType)
		assert.Equal(t, 1, got.ExecutionCount, "counters survive an update")
		require.NotNil(t, got.LastExecutedAt)
	})

	t.Run("identities are independent per user and environment", func(t *testing.T) {
		repo := newTestRepo(t)

		a, err := repo.SaveConfig(testConfig("t1", "u1"))
		require.NoError(t, err)
		b, err := repo.SaveConfig(testConfig("t1", "u2"))
		require.NoError(t, err)

		testCfg := testConfig("t1", "u1")
		testCfg.Environment = domain.EnvTest
		c, err := repo.SaveConfig(testCfg)
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
		assert.NotEqual(t, a.ID, c.ID)
	})
}

func TestDeleteConfig(t *testing.T) {
	repo := newTestRepo(t)

	saved, err := repo.SaveConfig(testConfig("t1", "u1"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteConfig(saved.ID))

	_, err = repo.GetConfigByID(saved.ID)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	err = repo.DeleteConfig(saved.ID)
	assert.ErrorAs(t, err, &notFound)
}

func TestListEnabled(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.SaveConfig(testConfig("t1", "u1"))
	require.NoError(t, err)

	disabled := testConfig("t2", "u1")
	disabled.Enabled = false
	_, err = repo.SaveConfig(disabled)
	require.NoError(t, err)

	configs, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "t1", configs[0].TenantID)
}

func TestRecordFire(t *testing.T) {
	repo := newTestRepo(t)

	saved, err := repo.SaveConfig(testConfig("t1", "u1"))
	require.NoError(t, err)

	firedAt := time.Now().Truncate(time.Second)
	next := firedAt.Add(24 * time.Hour)
	require.NoError(t, repo.RecordFire(saved.ID, firedAt, &next))
	require.NoError(t, repo.IncrementFailureCount(saved.ID))

	got, err := repo.GetConfigByID(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount)
	assert.Equal(t, 1, got.FailureCount)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, got.LastExecutedAt.Equal(firedAt))
	require.NotNil(t, got.NextExecutionAt)
	assert.True(t, got.NextExecutionAt.Equal(next))
}

func TestExecutionHistory(t *testing.T) {
	repo := newTestRepo(t)

	saved, err := repo.SaveConfig(testConfig("t1", "u1"))
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 12; i++ {
		exec := &Execution{
			ConfigID:      saved.ID,
			TenantID:      "t1",
			ExecutedAt:    base.Add(time.Duration(i) * time.Minute),
			Status:        ExecutionRunning,
			TriggerSource: "scheduled",
		}
		require.NoError(t, repo.CreateExecution(exec))
		require.NoError(t, repo.FinishExecution(exec.ID, ExecutionSuccess, "wf-exec", "", 1500*time.Millisecond))
	}

	t.Run("default limit is ten, newest first", func(t *testing.T) {
		recent, err := repo.RecentExecutions(saved.ID, 0)
		require.NoError(t, err)
		require.Len(t, recent, 10)
		for i := 1; i < len(recent); i++ {
			assert.False(t, recent[i].ExecutedAt.After(recent[i-1].ExecutedAt))
		}
		assert.Equal(t, ExecutionSuccess, recent[0].Status)
		assert.Equal(t, "wf-exec", recent[0].ExternalExecutionID)
		assert.Equal(t, int64(1500), recent[0].DurationMS)
	})

	t.Run("failure outcome carries the message", func(t *testing.T) {
		exec := &Execution{
			ConfigID:      saved.ID,
			TenantID:      "t1",
			Status:        ExecutionRunning,
			TriggerSource: "manual",
		}
		require.NoError(t, repo.CreateExecution(exec))
		require.NoError(t, repo.FinishExecution(exec.ID, ExecutionFailed, "", "webhook returned 502", time.Second))

		recent, err := repo.RecentExecutions(saved.ID, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, ExecutionFailed, recent[0].Status)
		assert.Equal(t, "webhook returned 502", recent[0].ErrorMessage)
	})
}
