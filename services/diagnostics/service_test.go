package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stockplane/pkg/db/option"
	"stockplane/pkg/repository"
	"stockplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	createFn func(ctx context.Context, resource *T) error
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) { return 0, nil }

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &DiagnosticLog{})
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	return NewService(Params{DB: db, Node: node}), db
}

func backdate(t *testing.T, db *gorm.DB, id snowflake.ID, at time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&DiagnosticLog{}).
		Where("id = ?", id).
		Update("created_at", at).Error)
}

func TestTrackErrorPersistsRow(t *testing.T) {
	svc, db := newTestService(t)

	svc.TrackError(context.Background(), errors.New("boom"), ErrorContext{
		RunID:     "run-1",
		Category:  CategoryImport,
		Operation: "process_batch",
		Details:   map[string]any{"batch_code": "IMP-1"},
	})

	var row DiagnosticLog
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, CategoryImport, row.Category)
	require.Equal(t, "process_batch", row.Check)
	require.Equal(t, StatusFail, row.Status)
	require.Equal(t, "boom", row.Message)
	require.Equal(t, "run-1", row.RunID)
	require.Contains(t, row.Details, "stack")
	require.Contains(t, row.Details, "batch_code")
}

func TestTrackErrorRecoverableIsWarn(t *testing.T) {
	svc, db := newTestService(t)

	svc.TrackError(context.Background(), errors.New("transient"), ErrorContext{
		Category:    CategoryDatabase,
		Operation:   "save_chunk",
		Recoverable: true,
	})

	var row DiagnosticLog
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, StatusWarn, row.Status)
	require.NotEmpty(t, row.RunID)
}

func TestTrackErrorNilIsNoop(t *testing.T) {
	svc, db := newTestService(t)

	svc.TrackError(context.Background(), nil, ErrorContext{Category: CategoryImport})

	var count int64
	require.NoError(t, db.Model(&DiagnosticLog{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestTrackErrorSurvivesPersistenceFailure(t *testing.T) {
	svc, _ := newTestService(t)
	svc.logs = &repoMock[DiagnosticLog]{
		createFn: func(ctx context.Context, _ *DiagnosticLog) error {
			return errors.New("database gone")
		},
	}

	require.NotPanics(t, func() {
		svc.TrackError(context.Background(), errors.New("boom"), ErrorContext{
			Category:  CategoryImport,
			Operation: "process_batch",
		})
	})
}

func seedLog(t *testing.T, svc *Service, db *gorm.DB, category Category, check string, status CheckStatus, age time.Duration) {
	t.Helper()

	row := &DiagnosticLog{
		ID:       svc.node.Generate(),
		RunID:    "run-1",
		Category: category,
		Check:    check,
		Status:   status,
		Message:  "seed",
	}
	require.NoError(t, db.Create(row).Error)
	backdate(t, db, row.ID, time.Now().Add(-age))
}

func TestGetRecentErrorsGroupsByCheck(t *testing.T) {
	svc, db := newTestService(t)

	seedLog(t, svc, db, CategoryImport, "process_batch", StatusFail, time.Hour)
	seedLog(t, svc, db, CategoryImport, "process_batch", StatusWarn, 2*time.Hour)
	seedLog(t, svc, db, CategoryDatabase, "save_chunk", StatusFail, time.Hour)
	seedLog(t, svc, db, CategoryImport, "stale_sweep", StatusPass, time.Hour)
	seedLog(t, svc, db, CategoryImport, "old_failure", StatusFail, 48*time.Hour)

	summaries, err := svc.GetRecentErrors(context.Background(), 24, "")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "process_batch", summaries[0].Check)
	require.Equal(t, int64(2), summaries[0].Count)
	require.WithinDuration(t, time.Now().Add(-time.Hour), summaries[0].LastSeenAt.Time, time.Minute)

	imports, err := svc.GetRecentErrors(context.Background(), 24, CategoryImport)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	require.Equal(t, CategoryImport, imports[0].Category)
}

func TestGetErrorCountWindow(t *testing.T) {
	svc, db := newTestService(t)

	seedLog(t, svc, db, CategoryImport, "a", StatusFail, time.Hour)
	seedLog(t, svc, db, CategoryImport, "b", StatusWarn, 12*time.Hour)
	seedLog(t, svc, db, CategoryImport, "c", StatusFail, 30*time.Hour)
	seedLog(t, svc, db, CategoryImport, "d", StatusPass, time.Hour)

	count, err := svc.GetErrorCount(context.Background(), 24)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestGetErrorDetailsNewestFirstCapped(t *testing.T) {
	svc, db := newTestService(t)

	seedLog(t, svc, db, CategoryImport, "oldest", StatusFail, 3*time.Hour)
	seedLog(t, svc, db, CategoryImport, "middle", StatusFail, 2*time.Hour)
	seedLog(t, svc, db, CategoryImport, "newest", StatusFail, time.Hour)
	seedLog(t, svc, db, CategoryDatabase, "other", StatusFail, time.Hour)

	rows, err := svc.GetErrorDetails(context.Background(), CategoryImport, 24, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "newest", rows[0].Check)
	require.Equal(t, "middle", rows[1].Check)
}

func TestCleanupOldErrorsBoundary(t *testing.T) {
	svc, db := newTestService(t)

	seedLog(t, svc, db, CategoryImport, "stale", StatusFail, 31*24*time.Hour)
	seedLog(t, svc, db, CategoryImport, "near_boundary", StatusFail, 30*24*time.Hour-time.Minute)
	seedLog(t, svc, db, CategoryImport, "fresh", StatusFail, time.Hour)

	deleted, err := svc.CleanupOldErrors(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining []DiagnosticLog
	require.NoError(t, db.Order("check_name").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	require.Equal(t, "fresh", remaining[0].Check)
	require.Equal(t, "near_boundary", remaining[1].Check)
}

func TestLastSeenScanAcceptsDriverForms(t *testing.T) {
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var fromTime LastSeen
	require.NoError(t, fromTime.Scan(want))
	require.True(t, fromTime.Equal(want))

	var fromText LastSeen
	require.NoError(t, fromText.Scan("2025-06-01 12:00:00"))
	require.True(t, fromText.Equal(want))

	var bad LastSeen
	require.Error(t, bad.Scan(42))
}
