package diagnostics

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stockplane/pkg/db/option"
	"stockplane/pkg/repository"
)

const (
	defaultWindowHours  = 24
	defaultDetailLimit  = 100
	defaultRetentionDay = 30
)

var failedStates = []string{string(StatusFail), string(StatusWarn)}

// ErrorContext qualifies a tracked error. RunID groups every log written by
// one pass (import run, recalculation run); when empty the current hour
// bucket is used.
type ErrorContext struct {
	RunID       string
	Category    Category
	Operation   string
	Details     map[string]any
	Recoverable bool
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	logs repository.Repository[DiagnosticLog]
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		logs: repository.ProvideStore[DiagnosticLog](p.DB),
	}
}

// TrackError records an error to the structured log and best-effort persists
// a DiagnosticLog row. It never returns and never panics; a persistence
// failure is itself logged once and swallowed so tracking can never take the
// caller down with it.
func (s *Service) TrackError(ctx context.Context, err error, ec ErrorContext) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("diagnostic tracking panicked", zap.Any("panic", r))
		}
	}()

	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("category", string(ec.Category)),
		zap.String("operation", ec.Operation),
		zap.Bool("recoverable", ec.Recoverable),
		zap.Error(err),
	}
	if ec.Recoverable {
		zap.L().Warn("tracked error", fields...)
	} else {
		zap.L().Error("tracked error", fields...)
	}

	status := StatusFail
	if ec.Recoverable {
		status = StatusWarn
	}

	details := datatypes.JSONMap{}
	for k, v := range ec.Details {
		details[k] = v
	}
	details["stack"] = string(debug.Stack())

	row := &DiagnosticLog{
		ID:       s.node.Generate(),
		RunID:    runID(ec.RunID),
		Category: ec.Category,
		Check:    ec.Operation,
		Status:   status,
		Message:  err.Error(),
		Details:  details,
	}
	if dbErr := s.logs.Create(ctx, row); dbErr != nil {
		zap.L().Error("failed to persist diagnostic log",
			zap.String("operation", ec.Operation), zap.Error(dbErr))
	}
}

// TrackHealth records a PASS row for a completed check. Best-effort like
// TrackError.
func (s *Service) TrackHealth(ctx context.Context, run string, category Category, check, message string) {
	row := &DiagnosticLog{
		ID:       s.node.Generate(),
		RunID:    runID(run),
		Category: category,
		Check:    check,
		Status:   StatusPass,
		Message:  message,
		Details:  datatypes.JSONMap{},
	}
	if err := s.logs.Create(ctx, row); err != nil {
		zap.L().Error("failed to persist health check log",
			zap.String("check", check), zap.Error(err))
	}
}

func runID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102-15"))
}

// GetRecentErrors groups FAIL/WARN rows in the window by (category, check),
// most frequent first. Category narrows to one subsystem when set.
func (s *Service) GetRecentErrors(ctx context.Context, hours int, category Category) ([]ErrorSummary, error) {
	if hours <= 0 {
		hours = defaultWindowHours
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	query := s.db.WithContext(ctx).Model(&DiagnosticLog{}).
		Select("category, check_name, count(*) as error_count, max(created_at) as last_seen_at").
		Where("status IN ?", failedStates).
		Where("created_at >= ?", since).
		Group("category, check_name").
		Order("error_count DESC")

	if category != "" {
		query = query.Where("category = ?", category)
	}

	var summaries []ErrorSummary
	if err := query.Find(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetErrorCount returns the total FAIL/WARN rows in the window.
func (s *Service) GetErrorCount(ctx context.Context, hours int) (int64, error) {
	if hours <= 0 {
		hours = defaultWindowHours
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	var count int64
	err := s.db.WithContext(ctx).Model(&DiagnosticLog{}).
		Where("status IN ?", failedStates).
		Where("created_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetErrorDetails lists the most recent FAIL/WARN rows of one category,
// newest first, capped at limit.
func (s *Service) GetErrorDetails(ctx context.Context, category Category, hours, limit int) ([]*DiagnosticLog, error) {
	if hours <= 0 {
		hours = defaultWindowHours
	}
	if limit <= 0 {
		limit = defaultDetailLimit
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	opts := []option.QueryOption{
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: since}),
		func(db *gorm.DB) *gorm.DB { return db.Where("status IN ?", failedStates) },
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.WithLimit(limit),
	}

	return s.logs.Find(ctx, &DiagnosticLog{Category: category}, opts...)
}

// CleanupOldErrors deletes rows strictly older than the cutoff and returns
// how many went. A row created exactly at the boundary is retained.
func (s *Service) CleanupOldErrors(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = defaultRetentionDay
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)

	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&DiagnosticLog{})
	if res.Error != nil {
		zap.L().Error("failed to clean up diagnostic logs", zap.Error(res.Error))
		return 0, res.Error
	}

	zap.L().Info("cleaned up diagnostic logs",
		zap.Int64("deleted", res.RowsAffected),
		zap.Int("days_kept", daysToKeep))
	return res.RowsAffected, nil
}
