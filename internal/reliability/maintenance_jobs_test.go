package reliability

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navhub/internal/database"
	"github.com/aristath/navhub/pkg/logger"
)

func TestDailyMaintenanceJob(t *testing.T) {
	dir := t.TempDir()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "jobs.db"),
		Profile: database.ProfileStandard,
		Name:    "jobs",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	job := NewDailyMaintenanceJob(map[string]*database.DB{"jobs": db}, dir,
		logger.New(logger.Config{Level: "error"}))

	assert.Equal(t, "daily_maintenance", job.Name())
	require.NoError(t, job.Run())
}
