package importer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stockplane/pkg/config"
	"stockplane/pkg/db/option"
	"stockplane/pkg/repository"
	"stockplane/services/diagnostics"
)

// Scheduler runs the maintenance passes of the worker binary: an hourly
// sweep that force-fails batches stuck in pending, and a daily retention
// pass over the queue sets and the diagnostic log.
type Scheduler struct {
	config  *config.Config
	queue   *Queue
	tracker *diagnostics.Service

	batches repository.Repository[ImportBatch]
}

type SchedulerParams struct {
	fx.In

	DB      *gorm.DB
	Config  *config.Config
	Queue   *Queue
	Tracker *diagnostics.Service
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		config:  p.Config,
		queue:   p.Queue,
		tracker: p.Tracker,
		batches: repository.ProvideStore[ImportBatch](p.DB),
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started import maintenance")

	hourly := time.NewTicker(time.Hour)
	defer hourly.Stop()

	for {
		daily := nextRunTime(time.Now(), 3, 0)

		select {
		case <-hourly.C:
			s.sweepStale(ctx)
		case <-time.After(time.Until(daily)):
			s.runRetention(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// sweepStale force-fails batches that never left pending. A batch only
// stays pending this long when its job was lost or the worker died before
// picking it up.
func (s *Scheduler) sweepStale(ctx context.Context) {
	staleAfter := s.config.Import.StaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	rows, err := s.batches.Find(ctx, &ImportBatch{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: cutoff}))
	if err != nil {
		zap.L().Error("[Scheduler] failed to find stale batches", zap.Error(err))
		s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
			Category:    diagnostics.CategoryImport,
			Operation:   "stale_sweep",
			Recoverable: true,
		})
		return
	}
	if len(rows) == 0 {
		return
	}

	failed := 0
	for _, batch := range rows {
		merged := mergeMetadata(batch, "failureReason", "import timed out before processing")
		if err := s.batches.Update(ctx, batch.ID.String(), map[string]any{
			"status":       StatusFailed,
			"completed_at": time.Now().UTC(),
			"errors":       marshalJSON([]RowError{{RowRange: "0-0", Message: "import timed out before processing"}}),
			"metadata":     merged,
		}); err != nil {
			zap.L().Error("[Scheduler] failed to fail stale batch",
				zap.String("batch_code", batch.BatchCode), zap.Error(err))
			continue
		}
		failed++
	}

	zap.L().Warn("[Scheduler] force-failed stale batches", zap.Int("count", failed))
	s.tracker.TrackHealth(ctx, "", diagnostics.CategoryImport, "stale_sweep",
		fmt.Sprintf("force-failed %d stale pending batches", failed))
}

// runRetention prunes finished queue tasks and aged diagnostic rows.
func (s *Scheduler) runRetention(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily retention")

	pruned, err := s.queue.Cleanup(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] queue cleanup failed", zap.Error(err))
		s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
			Category:    diagnostics.CategoryImport,
			Operation:   "queue_cleanup",
			Recoverable: true,
		})
	}

	removed, err := s.tracker.CleanupOldErrors(ctx, s.config.Diagnostics.RetentionDays)
	if err != nil {
		zap.L().Error("[Scheduler] diagnostics cleanup failed", zap.Error(err))
	}

	s.tracker.TrackHealth(ctx, "", diagnostics.CategoryImport, "daily_retention",
		fmt.Sprintf("pruned %d queue tasks and %d diagnostic rows", pruned, removed))

	zap.L().Info("[Scheduler] finished daily retention",
		zap.Int("tasks_pruned", pruned),
		zap.Int64("diagnostics_removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
}

func mergeMetadata(batch *ImportBatch, key string, value any) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range batch.Metadata {
		merged[k] = v
	}
	merged[key] = value
	return merged
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
