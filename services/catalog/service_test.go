package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stockplane/pkg/errutil"
	"stockplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Client{}, &Product{}, &Transaction{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewService(Params{DB: db, Node: node}), db
}

func TestCreateClientDerivesSlug(t *testing.T) {
	svc, _ := newTestService(t)

	client, err := svc.CreateClient(context.Background(), "Bougie Beverages", "")
	require.NoError(t, err)
	require.Equal(t, "bougie-beverages", client.Code)
	require.Equal(t, ClientActive, client.Status)
}

func TestCreateClientDuplicateCode(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateClient(context.Background(), "First", "acme")
	require.NoError(t, err)

	_, err = svc.CreateClient(context.Background(), "Second", "acme")
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestActiveClientRejectsInactive(t *testing.T) {
	svc, db := newTestService(t)

	client, err := svc.CreateClient(context.Background(), "Dormant Co", "")
	require.NoError(t, err)
	require.NoError(t, db.Model(&Client{}).
		Where("id = ?", client.ID).
		Update("status", ClientInactive).Error)

	_, err = svc.ActiveClient(context.Background(), client.Code)
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())

	_, err = svc.ActiveClient(context.Background(), "no-such-client")
	require.Error(t, err)
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestCreateOrphanDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	clientID := svc.node.Generate()
	batchID := svc.node.Generate()

	product, err := svc.CreateOrphan(context.Background(), clientID, "UNKNOWN-1", batchID)
	require.NoError(t, err)

	require.True(t, product.IsOrphan)
	require.Equal(t, "UNKNOWN-1", product.SKU)
	require.Equal(t, "UNKNOWN-1", product.Name)
	require.Equal(t, 1, product.PackSize)
	require.Equal(t, batchID, product.ImportBatchID)
}

func TestProductIndex(t *testing.T) {
	svc, db := newTestService(t)
	clientID := svc.node.Generate()

	require.NoError(t, db.Create(&Product{
		ID: svc.node.Generate(), ClientID: clientID, SKU: "A", PackSize: 6,
	}).Error)
	require.NoError(t, db.Create(&Product{
		ID: svc.node.Generate(), ClientID: clientID, SKU: "B", PackSize: 12,
	}).Error)
	require.NoError(t, db.Create(&Product{
		ID: svc.node.Generate(), ClientID: svc.node.Generate(), SKU: "C", PackSize: 1,
	}).Error)

	index, err := svc.ProductIndex(context.Background(), clientID)
	require.NoError(t, err)
	require.Len(t, index, 2)
	require.Equal(t, 6, index["A"].PackSize)
	require.Equal(t, 12, index["B"].PackSize)
}

func TestSaveImportedPreservesAnalyticsColumns(t *testing.T) {
	svc, db := newTestService(t)
	clientID := svc.node.Generate()
	now := time.Now().UTC()

	existing := &Product{
		ID:                   svc.node.Generate(),
		ClientID:             clientID,
		SKU:                  "A",
		Name:                 "Old Name",
		PackSize:             6,
		CurrentStockUnits:    10,
		MonthlyUsageUnits:    42,
		UsageCalculationTier: Tier6Month,
		UsageLastCalculated:  &now,
	}
	require.NoError(t, db.Create(existing).Error)

	update := &Product{
		ID:                existing.ID,
		ClientID:          clientID,
		SKU:               "A",
		Name:              "New Name",
		PackSize:          6,
		CurrentStockUnits: 50,
	}
	require.NoError(t, svc.SaveImported(context.Background(), nil, []*Product{update}))

	var got Product
	require.NoError(t, db.First(&got, "id = ?", existing.ID).Error)
	require.Equal(t, "New Name", got.Name)
	require.Equal(t, 50, got.CurrentStockUnits)
	require.InDelta(t, 42.0, got.MonthlyUsageUnits, 1e-9)
	require.Equal(t, Tier6Month, got.UsageCalculationTier)
	require.NotNil(t, got.UsageLastCalculated)
}

func TestDeleteTransactionsForBatchScopedToBatch(t *testing.T) {
	svc, db := newTestService(t)

	client, err := svc.CreateClient(context.Background(), "Acme", "")
	require.NoError(t, err)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	batchA, batchB := node.Generate(), node.Generate()

	for _, batchID := range []snowflake.ID{batchA, batchA, batchB} {
		require.NoError(t, db.Create(&Transaction{
			ID:            node.Generate(),
			ClientID:      client.ID,
			ProductID:     node.Generate(),
			OrderID:       "ORD-1",
			QuantityUnits: 1,
			DateSubmitted: time.Now().UTC(),
			ImportBatchID: batchID,
		}).Error)
	}

	removed, err := svc.DeleteTransactionsForBatch(context.Background(), batchA)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var remaining []Transaction
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, batchB, remaining[0].ImportBatchID)
}
