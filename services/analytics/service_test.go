package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stockplane/pkg/config"
	"stockplane/pkg/repository"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
	"stockplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqStub struct{}

func (seqStub) NextBatchCode(ctx context.Context, clientID string) (string, error) {
	return "IMP-240601-001AA", nil
}

func (seqStub) NextRunCode(ctx context.Context) (string, error) {
	return "RUN-240601-001AA", nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Product{}, &catalog.Transaction{},
		&AnalyticsSnapshot{}, &diagnostics.DiagnosticLog{})
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	svc := &Service{
		db:           db,
		node:         node,
		config:       &config.Config{},
		seq:          seqStub{},
		tracker:      diagnostics.NewService(diagnostics.Params{DB: db, Node: node}),
		products:     repository.ProvideStore[catalog.Product](db),
		transactions: repository.ProvideStore[catalog.Transaction](db),
		snapshots:    repository.ProvideStore[AnalyticsSnapshot](db),
	}
	return svc, db, node
}

func seedProduct(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID snowflake.ID, sku string) *catalog.Product {
	t.Helper()

	product := &catalog.Product{
		ID:                node.Generate(),
		ClientID:          clientID,
		SKU:               sku,
		Name:              "Nitrile Gloves",
		PackSize:          10,
		CurrentStockUnits: 300,
		CurrentStockPacks: 30,
		UnitPrice:         2.5,
		LeadDays:          5,
		ReviewDays:        7,
		IsActive:          true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func seedTransactions(t *testing.T, db *gorm.DB, node *snowflake.Node, p *catalog.Product, months int, unitsPerMonth int) {
	t.Helper()

	base := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		require.NoError(t, db.Create(&catalog.Transaction{
			ID:            node.Generate(),
			ClientID:      p.ClientID,
			ProductID:     p.ID,
			QuantityUnits: unitsPerMonth,
			DateSubmitted: base.AddDate(0, i, 0),
			OrderStatus:   catalog.OrderStatusCompleted,
		}).Error)
	}
}

func TestRecalculateProductWritesMetrics(t *testing.T) {
	svc, db, node := newTestService(t)
	clientID := node.Generate()
	product := seedProduct(t, db, node, clientID, "SKU-100")
	seedTransactions(t, db, node, product, 3, 90)

	now := time.Now().UTC()
	usage, timing, err := svc.RecalculateProduct(context.Background(), product, now)
	require.NoError(t, err)

	require.Equal(t, catalog.Tier3Month, usage.Tier)
	require.InDelta(t, 90.0, usage.MonthlyUsageUnits, 1e-9)
	require.InDelta(t, 9.0, usage.MonthlyUsagePacks, 1e-9)
	require.Positive(t, timing.WeeksRemaining)

	var got catalog.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	require.Equal(t, catalog.Tier3Month, got.UsageCalculationTier)
	require.Equal(t, catalog.ConfidenceMedium, got.UsageConfidence)
	require.Equal(t, 3, got.UsageDataMonths)
	require.InDelta(t, 90.0, got.MonthlyUsageUnits, 1e-9)
	require.NotNil(t, got.UsageLastCalculated)
	require.NotNil(t, got.TimingLastCalculated)
	require.NotNil(t, got.ProjectedStockoutDate)
	require.NotNil(t, got.LastOrderByDate)
}

func TestRecalculateProductIdempotent(t *testing.T) {
	svc, db, node := newTestService(t)
	clientID := node.Generate()
	product := seedProduct(t, db, node, clientID, "SKU-100")
	seedTransactions(t, db, node, product, 6, 60)

	now := time.Now().UTC()
	first, _, err := svc.RecalculateProduct(context.Background(), product, now)
	require.NoError(t, err)
	second, _, err := svc.RecalculateProduct(context.Background(), product, now)
	require.NoError(t, err)

	require.Equal(t, first, second)

	var got catalog.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	require.Equal(t, catalog.Tier6Month, got.UsageCalculationTier)
}

func TestRecalculateProductNoUsage(t *testing.T) {
	svc, db, node := newTestService(t)
	clientID := node.Generate()
	product := seedProduct(t, db, node, clientID, "SKU-100")

	_, timing, err := svc.RecalculateProduct(context.Background(), product, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, InfiniteWeeks, timing.WeeksRemaining)

	var got catalog.Product
	require.NoError(t, db.First(&got, "id = ?", product.ID).Error)
	require.Equal(t, InfiniteWeeks, got.WeeksRemaining)
	require.Nil(t, got.ProjectedStockoutDate)
	require.Nil(t, got.LastOrderByDate)
}

func TestRecalculateClientWritesSnapshot(t *testing.T) {
	svc, db, node := newTestService(t)
	clientID := node.Generate()

	for _, sku := range []string{"SKU-1", "SKU-2", "SKU-3"} {
		product := seedProduct(t, db, node, clientID, sku)
		seedTransactions(t, db, node, product, 4, 120)
	}

	snapshot, err := svc.RecalculateClient(context.Background(), clientID, "RUN-TEST")
	require.NoError(t, err)

	require.Equal(t, 3, snapshot.ProductsEvaluated)
	require.Zero(t, snapshot.ProductsFailed)
	require.InDelta(t, 3*300*2.5, snapshot.InventoryValue, 1e-6)
	require.Positive(t, snapshot.MonthlyHolding)

	count, err := svc.CountSnapshots(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
