package importer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stockplane/pkg/repository"
	"stockplane/pkg/taskname"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
	"stockplane/services/testutil"
)

type seqStub struct{}

func (seqStub) NextBatchCode(ctx context.Context, clientID string) (string, error) {
	return "IMP-20250101-0001", nil
}

func (seqStub) NextRunCode(ctx context.Context) (string, error) {
	return "RUN-20250101-0001", nil
}

func newTestWorker(t *testing.T) (*Worker, *gorm.DB, *snowflake.Node, *enqueuerStub) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ImportBatch{},
		&catalog.Client{},
		&catalog.Product{},
		&catalog.Transaction{},
		&diagnostics.DiagnosticLog{},
	)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	enq := &enqueuerStub{}
	w := &Worker{
		db:       db,
		node:     node,
		config:   queueConfig(),
		catalog:  catalog.NewService(catalog.Params{DB: db, Node: node}),
		tracker:  diagnostics.NewService(diagnostics.Params{DB: db, Node: node}),
		enqueuer: enq,
		seq:      seqStub{},
		batches:  repository.ProvideStore[ImportBatch](db),
	}
	return w, db, node, enq
}

func seedClient(t *testing.T, db *gorm.DB, node *snowflake.Node, status catalog.ClientStatus) *catalog.Client {
	t.Helper()
	client := &catalog.Client{
		ID:     node.Generate(),
		Code:   "acme-" + node.Generate().String(),
		Name:   "Acme",
		Status: status,
	}
	require.NoError(t, db.Create(client).Error)
	return client
}

func seedBatch(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID snowflake.ID, status BatchStatus) *ImportBatch {
	t.Helper()
	batch := &ImportBatch{
		ID:         node.Generate(),
		BatchCode:  "IMP-" + node.Generate().String(),
		ClientID:   clientID,
		ImportType: TypeInventory,
		Filename:   "stock.csv",
		ObjectKey:  "imports/acme/stock.csv",
		Status:     status,
	}
	require.NoError(t, db.Create(batch).Error)
	return batch
}

func importTaskFor(t *testing.T, batch *ImportBatch) ImportPayload {
	t.Helper()
	return ImportPayload{
		BatchID:    batch.ID,
		ClientID:   batch.ClientID,
		ObjectKey:  batch.ObjectKey,
		ImportType: batch.ImportType,
	}
}

func TestHandleImportTaskSkipsFinishedBatch(t *testing.T) {
	w, db, node, enq := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientActive)
	batch := seedBatch(t, db, node, client.ID, StatusCompleted)

	err := w.HandleImportTask(context.Background(), NewImportTask(importTaskFor(t, batch)))
	require.NoError(t, err)

	var got ImportBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, StatusCompleted, got.Status)
	require.Zero(t, enq.calls)
}

func TestHandleImportTaskUnknownBatch(t *testing.T) {
	w, _, node, _ := newTestWorker(t)

	payload := ImportPayload{
		BatchID:    node.Generate(),
		ClientID:   node.Generate(),
		ImportType: TypeInventory,
	}
	err := w.HandleImportTask(context.Background(), NewImportTask(payload))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestHandleImportTaskInactiveClientFailsBatch(t *testing.T) {
	w, db, node, _ := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientInactive)
	batch := seedBatch(t, db, node, client.ID, StatusPending)

	err := w.HandleImportTask(context.Background(), NewImportTask(importTaskFor(t, batch)))
	require.Error(t, err)

	var got ImportBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Contains(t, got.Metadata["failureReason"], "inactive")

	// The failure also lands in the diagnostic log.
	var count int64
	require.NoError(t, db.Model(&diagnostics.DiagnosticLog{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestHandleImportTaskRejectsGarbagePayload(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	badTask := asynq.NewTask(taskname.ImportProcess, []byte("{not json"))
	err := w.HandleImportTask(context.Background(), badTask)
	require.Error(t, err)
}

func TestFinishBatchPersistsRunArtifacts(t *testing.T) {
	w, db, node, _ := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientActive)
	batch := seedBatch(t, db, node, client.ID, StatusProcessing)

	run := &batchRun{runID: batch.BatchCode, rows: 10, processed: 8, failed: 2}
	run.rejectRows(4, 5, 2, errors.New("database error: constraint violation"))
	run.logf("info", "processing started")
	run.sourceHeaders = []string{"SKU", "Qty"}
	run.mappedHeaders = []string{"sku", "currentStockPacks"}

	require.NoError(t, w.finishBatch(context.Background(), batch, run, StatusCompleted))

	var got ImportBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 10, got.RowCount)
	require.Equal(t, 8, got.ProcessedCount)
	require.Equal(t, 4, got.ErrorCount)
	require.NotNil(t, got.CompletedAt)

	var rowErrs []RowError
	require.NoError(t, json.Unmarshal(got.Errors, &rowErrs))
	require.Len(t, rowErrs, 1)
	require.Equal(t, "4-5", rowErrs[0].RowRange)

	var headers []string
	require.NoError(t, json.Unmarshal(got.SourceHeaders, &headers))
	require.Equal(t, []string{"SKU", "Qty"}, headers)
}

func TestMarkAnalyticsRecalculatedMergesMetadata(t *testing.T) {
	w, db, node, _ := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientActive)
	batch := seedBatch(t, db, node, client.ID, StatusCompleted)
	batch.Metadata = datatypes.JSONMap{"analyticsQueued": true, "source": "dashboard"}
	require.NoError(t, db.Model(&ImportBatch{}).Where("id = ?", batch.ID).
		Update("metadata", batch.Metadata).Error)

	require.NoError(t, w.MarkAnalyticsRecalculated(context.Background(), batch.ID, "RUN-20250101-0007"))

	var got ImportBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, true, got.Metadata["analyticsQueued"])
	require.Equal(t, "dashboard", got.Metadata["source"])
	require.Equal(t, true, got.Metadata["analyticsRecalculated"])
	require.Equal(t, "RUN-20250101-0007", got.Metadata["analyticsRunId"])
}

func TestMarkAnalyticsRecalculatedMissingBatch(t *testing.T) {
	w, _, node, _ := newTestWorker(t)
	require.NoError(t, w.MarkAnalyticsRecalculated(context.Background(), node.Generate(), "RUN-20250101-0008"))
}

func TestProcessOrdersPurgesRowsFromInterruptedRun(t *testing.T) {
	w, db, node, _ := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientActive)
	batch := seedBatch(t, db, node, client.ID, StatusProcessing)
	batch.ImportType = TypeOrders
	require.NoError(t, db.Model(&ImportBatch{}).Where("id = ?", batch.ID).
		Update("import_type", TypeOrders).Error)

	product := &catalog.Product{
		ID:       node.Generate(),
		ClientID: client.ID,
		SKU:      "SKU-1",
		Name:     "Widget",
		PackSize: 1,
		IsActive: true,
	}
	require.NoError(t, db.Create(product).Error)

	// A chunk the previous run committed before it died.
	leftover := &catalog.Transaction{
		ID:            node.Generate(),
		ClientID:      client.ID,
		ProductID:     product.ID,
		OrderID:       "ORD-1",
		QuantityUnits: 5,
		DateSubmitted: time.Now().UTC(),
		ImportBatchID: batch.ID,
	}
	require.NoError(t, db.Create(leftover).Error)

	file := "Product ID,Order ID,Quantity,Date Submitted\n" +
		"SKU-1,ORD-1,5,2025-06-01\n" +
		"SKU-1,ORD-2,3,2025-06-02\n"
	run := &batchRun{runID: batch.BatchCode}
	require.NoError(t, w.processOrders(context.Background(), batch, nil, strings.NewReader(file), run))

	var count int64
	require.NoError(t, db.Model(&catalog.Transaction{}).
		Where("import_batch_id = ?", batch.ID).Count(&count).Error)
	require.EqualValues(t, 2, count)
	require.Equal(t, 2, run.processed)
}

func TestHandleImportTaskDropsJobForCancelledBatch(t *testing.T) {
	w, db, node, _ := newTestWorker(t)
	client := seedClient(t, db, node, catalog.ClientActive)
	batch := seedBatch(t, db, node, client.ID, StatusFailed)
	require.NoError(t, db.Model(&ImportBatch{}).Where("id = ?", batch.ID).
		Update("metadata", datatypes.JSONMap{"failureReason": reasonCancelled}).Error)

	err := w.HandleImportTask(context.Background(), NewImportTask(importTaskFor(t, batch)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var got ImportBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
}
