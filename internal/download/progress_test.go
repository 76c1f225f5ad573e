package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navhub/internal/modules/jobs"
)

func TestTracker(t *testing.T) {
	t.Run("start and update", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("j1")

		snap, ok := tr.Get("j1")
		require.True(t, ok)
		assert.Equal(t, jobs.StatusPending, snap.Status)
		assert.Equal(t, 0, snap.Percent)

		tr.Update("j1", 40, "Storing records", 10, 25)
		snap, _ = tr.Get("j1")
		assert.Equal(t, 40, snap.Percent)
		assert.Equal(t, "Storing records", snap.Step)
		assert.Equal(t, 10, snap.Processed)
		assert.Equal(t, 25, snap.Total)
		require.NotNil(t, snap.ETA)
	})

	t.Run("percent never moves backwards", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("j1")

		tr.Update("j1", 60, "", 0, 0)
		tr.Update("j1", 40, "", 0, 0)

		snap, _ := tr.Get("j1")
		assert.Equal(t, 60, snap.Percent)
	})

	t.Run("completed pins percent to one hundred", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("j1")
		tr.Update("j1", 70, "", 0, 0)

		tr.SetStatus("j1", jobs.StatusCompleted)

		snap, _ := tr.Get("j1")
		assert.Equal(t, jobs.StatusCompleted, snap.Status)
		assert.Equal(t, 100, snap.Percent)
		assert.Nil(t, snap.ETA)
	})

	t.Run("terminal snapshots are garbage collected after the delay", func(t *testing.T) {
		tr := NewTrackerWithGCDelay(20 * time.Millisecond)
		tr.Start("j1")
		tr.SetStatus("j1", jobs.StatusFailed)

		_, ok := tr.Get("j1")
		assert.True(t, ok, "terminal snapshot should remain queryable briefly")

		assert.Eventually(t, func() bool {
			_, ok := tr.Get("j1")
			return !ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("active excludes terminal jobs", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("running")
		tr.SetStatus("running", jobs.StatusRunning)
		tr.Start("done")
		tr.SetStatus("done", jobs.StatusCompleted)

		active := tr.Active()
		require.Len(t, active, 1)
		assert.Equal(t, "running", active[0].JobID)
	})

	t.Run("scheme errors are recorded once per scheme", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("j1")

		tr.AddSchemeError("j1", "100001", "bad row")
		tr.AddSchemeError("j1", "100001", "another message")
		tr.AddSchemeError("j1", "100002", "missing nav")

		snap, _ := tr.Get("j1")
		require.Len(t, snap.SchemeErrors, 2)
		assert.Equal(t, "bad row", snap.SchemeErrors["100001"])
	})

	t.Run("snapshots returned are copies", func(t *testing.T) {
		tr := NewTracker()
		tr.Start("j1")
		tr.AddSchemeError("j1", "100001", "bad row")

		snap, _ := tr.Get("j1")
		snap.SchemeErrors["100001"] = "mutated"

		fresh, _ := tr.Get("j1")
		assert.Equal(t, "bad row", fresh.SchemeErrors["100001"])
	})
}

func TestTrackerSequential(t *testing.T) {
	t.Run("chunk accounting", func(t *testing.T) {
		tr := NewTracker()
		tr.StartSequential("parent", 3)

		tr.ChunkCompleted("parent")
		seq, ok := tr.GetSequential("parent")
		require.True(t, ok)
		assert.Equal(t, 1, seq.CompletedChunks)
		require.NotNil(t, seq.EstimatedCompletion)

		tr.ChunkFailed("parent", 2, "fetch failed")
		seq, _ = tr.GetSequential("parent")
		assert.Equal(t, 2, seq.CompletedChunks)
		require.Len(t, seq.ChunkErrors, 1)
		assert.Equal(t, 2, seq.ChunkErrors[0].ChunkNumber)

		tr.ChunkCompleted("parent")
		tr.FinishSequential("parent", jobs.StatusCompletedWithErrors)

		seq, _ = tr.GetSequential("parent")
		assert.Equal(t, jobs.StatusCompletedWithErrors, seq.Status)
		assert.Nil(t, seq.EstimatedCompletion)
	})

	t.Run("finish schedules garbage collection", func(t *testing.T) {
		tr := NewTrackerWithGCDelay(20 * time.Millisecond)
		tr.StartSequential("parent", 1)
		tr.FinishSequential("parent", jobs.StatusCompleted)

		assert.Eventually(t, func() bool {
			_, ok := tr.GetSequential("parent")
			return !ok
		}, time.Second, 10*time.Millisecond)
	})
}
