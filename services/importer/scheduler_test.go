package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockplane/pkg/repository"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
)

func newTestScheduler(t *testing.T) (*Scheduler, *Worker) {
	t.Helper()
	w, db, _, _ := newTestWorker(t)
	s := &Scheduler{
		config:  w.config,
		tracker: w.tracker,
		batches: repository.ProvideStore[ImportBatch](db),
	}
	return s, w
}

func backdateBatch(t *testing.T, w *Worker, batch *ImportBatch, age time.Duration) {
	t.Helper()
	require.NoError(t, w.db.Model(&ImportBatch{}).Where("id = ?", batch.ID).
		Update("created_at", time.Now().UTC().Add(-age)).Error)
}

func TestSweepStaleForceFailsOldPendingBatches(t *testing.T) {
	s, w := newTestScheduler(t)
	s.config.Import.StaleAfter = time.Hour

	client := seedClient(t, w.db, w.node, catalog.ClientActive)
	stale := seedBatch(t, w.db, w.node, client.ID, StatusPending)
	backdateBatch(t, w, stale, 2*time.Hour)

	s.sweepStale(context.Background())

	var got ImportBatch
	require.NoError(t, w.db.First(&got, "id = ?", stale.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Contains(t, got.Metadata["failureReason"], "timed out")
	require.Contains(t, string(got.Errors), "import timed out before processing")
}

func TestSweepStaleLeavesRecentAndRunningBatchesAlone(t *testing.T) {
	s, w := newTestScheduler(t)
	s.config.Import.StaleAfter = time.Hour

	client := seedClient(t, w.db, w.node, catalog.ClientActive)
	recent := seedBatch(t, w.db, w.node, client.ID, StatusPending)
	running := seedBatch(t, w.db, w.node, client.ID, StatusProcessing)
	backdateBatch(t, w, running, 3*time.Hour)

	s.sweepStale(context.Background())

	for _, id := range []interface{}{recent.ID, running.ID} {
		var got ImportBatch
		require.NoError(t, w.db.First(&got, "id = ?", id).Error)
		require.NotEqual(t, StatusFailed, got.Status)
	}

	// Nothing stale means no health marker either.
	var count int64
	require.NoError(t, w.db.Model(&diagnostics.DiagnosticLog{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestNextRunTimeRollsToTomorrow(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	next := nextRunTime(now, 3, 0)
	require.Equal(t, time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC), next)

	early := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC), nextRunTime(early, 3, 0))
}
