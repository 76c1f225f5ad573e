package schemes

import (
	"path/filepath"
	"testing"

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

func scheme(tenant, code string) Scheme {
	return Scheme{
		TenantID:    tenant,
		Environment: domain.EnvLive,
		SchemeCode:  code,
		SchemeName:  "Scheme " + code,
		FundHouse:   "Acme MF",
		ISIN:        "INF" + code,
	}
}

func TestUpsert(t *testing.T) {
	t.Run("round-trips a scheme", func(t *testing.T) {
		repo := newTestRepo(t)
		require.NoError(t, repo.Upsert(scheme("t1", "100001")))

		got, err := repo.Get("t1", domain.EnvLive, "100001")
		require.NoError(t, err)
		assert.Equal(t, "Scheme 100001", got.SchemeName)
		assert.Equal(t, "Acme MF", got.FundHouse)
		assert.Equal(t, "INF100001", got.ISIN)
		assert.False(t, got.HistoricalBackfillComplete)
	})

	t.Run("update preserves the backfill flag", func(t *testing.T) {
		repo := newTestRepo(t)
		require.NoError(t, repo.Upsert(scheme("t1", "100001")))
		require.NoError(t, repo.MarkBackfillComplete("t1", domain.EnvLive, []string{"100001"}))

		// Re-sync with a fresh name; the flag must survive
		s := scheme("t1", "100001")
		s.SchemeName = "Renamed Scheme"
		require.NoError(t, repo.Upsert(s))

		got, err := repo.Get("t1", domain.EnvLive, "100001")
		require.NoError(t, err)
		assert.Equal(t, "Renamed Scheme", got.SchemeName)
		assert.True(t, got.HistoricalBackfillComplete)
	})

	t.Run("unknown scheme is not found", func(t *testing.T) {
		repo := newTestRepo(t)
		_, err := repo.Get("t1", domain.EnvLive, "missing")
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestListCodes(t *testing.T) {
	repo := newTestRepo(t)
	for _, code := range []string{"100003", "100001", "100002"} {
		require.NoError(t, repo.Upsert(scheme("t1", code)))
	}
	require.NoError(t, repo.Upsert(scheme("t2", "200001")))

	s := scheme("t1", "300001")
	s.Environment = domain.EnvTest
	require.NoError(t, repo.Upsert(s))

	codes, err := repo.ListCodes("t1", domain.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, []string{"100001", "100002", "100003"}, codes)

	codes, err = repo.ListCodes("t3", domain.EnvLive)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestBackfillFlags(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Upsert(scheme("t1", "100001")))
	require.NoError(t, repo.Upsert(scheme("t1", "100002")))

	complete, err := repo.BackfillComplete("t1", domain.EnvLive, []string{"100001", "100002", "999999"})
	require.NoError(t, err)
	assert.False(t, complete["100001"])
	assert.False(t, complete["999999"], "untracked schemes report incomplete")

	require.NoError(t, repo.MarkBackfillComplete("t1", domain.EnvLive, []string{"100001"}))

	complete, err = repo.BackfillComplete("t1", domain.EnvLive, []string{"100001", "100002"})
	require.NoError(t, err)
	assert.True(t, complete["100001"])
	assert.False(t, complete["100002"])

	// Other environments are untouched
	s := scheme("t1", "100001")
	s.Environment = domain.EnvTest
	require.NoError(t, repo.Upsert(s))
	complete, err = repo.BackfillComplete("t1", domain.EnvTest, []string{"100001"})
	require.NoError(t, err)
	assert.False(t, complete["100001"])
}
