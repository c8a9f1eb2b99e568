package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"stockplane/pkg/taskname"
	"stockplane/services/diagnostics"
)

// RecalculatePayload asks the worker to refresh one client's derived
// metrics. BatchID carries the import that triggered the run, when there is
// one, so the batch can be stamped afterwards.
type RecalculatePayload struct {
	ClientID snowflake.ID `json:"client_id"`
	BatchID  snowflake.ID `json:"batch_id,omitempty"`
	RunID    string       `json:"run_id,omitempty"`
}

func NewRecalculateTask(p RecalculatePayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(taskname.AnalyticsRecalculate, payload,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(taskname.AnalyticsQueue))
}

func (s *Service) HandleRecalculateTask(ctx context.Context, t *asynq.Task) error {
	var payload RecalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	runID := payload.RunID
	if runID == "" {
		code, err := s.seq.NextRunCode(ctx)
		if err != nil {
			zap.L().Warn("failed to allocate run code", zap.Error(err))
		} else {
			runID = code
		}
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("client_id", payload.ClientID.String()),
		zap.String("run_id", runID),
	)
	zapLog.Info("▶️ start analytics recalculation task")

	snapshot, err := s.RecalculateClient(ctx, payload.ClientID, runID)
	if err != nil {
		s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
			RunID:       runID,
			Category:    diagnostics.CategoryAnalytics,
			Operation:   "client_recalculation",
			Details:     map[string]any{"client_id": payload.ClientID.String()},
			Recoverable: false,
		})
		zapLog.Error("recalculation failed", zap.Error(err))
		return err
	}

	if s.marker != nil && payload.BatchID > 0 {
		if err := s.marker.MarkAnalyticsRecalculated(ctx, payload.BatchID, runID); err != nil {
			zapLog.Warn("failed to stamp batch after recalculation", zap.Error(err))
		}
	}

	zapLog.Info("🎉 analytics recalculation finished",
		zap.Int("products", snapshot.ProductsEvaluated))
	return nil
}
