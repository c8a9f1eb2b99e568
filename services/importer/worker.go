package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stockplane/pkg/config"
	"stockplane/pkg/repository"
	"stockplane/pkg/sequence"
	"stockplane/pkg/task"
	"stockplane/services/analytics"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
)

// Worker consumes import tasks: it fetches the uploaded file from object
// storage, cleans and persists its rows chunk by chunk, and queues the
// analytics recalculation once the batch lands.
type Worker struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	storage  *minio.Client
	catalog  *catalog.Service
	tracker  *diagnostics.Service
	enqueuer task.Enqueuer
	seq      sequence.Generator

	batches repository.Repository[ImportBatch]
}

type WorkerParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Storage  *minio.Client
	Catalog  *catalog.Service
	Tracker  *diagnostics.Service
	Enqueuer task.Enqueuer
	Sequence sequence.Generator
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		storage:  p.Storage,
		catalog:  p.Catalog,
		tracker:  p.Tracker,
		enqueuer: p.Enqueuer,
		seq:      p.Sequence,
		batches:  repository.ProvideStore[ImportBatch](p.DB),
	}
}

// batchRun accumulates one processing pass over a batch file.
type batchRun struct {
	runID     string
	rows      int
	processed int
	failed    int
	failure   error
	errors    []RowError
	logs      []BatchLog

	sourceHeaders []string
	mappedHeaders []string
	customHeaders []string
}

func (r *batchRun) logf(level, format string, args ...any) {
	r.logs = append(r.logs, BatchLog{
		At:      time.Now().UTC(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *batchRun) rejectRows(startRow, endRow, count int, err error) {
	r.failed += count
	r.errors = append(r.errors, RowError{
		RowRange: fmt.Sprintf("%d-%d", startRow, endRow),
		Message:  err.Error(),
	})
}

func (r *batchRun) rejectRow(row int, err error) {
	r.rejectRows(row, row, 1, err)
}

func (r *batchRun) setHeaders(header []string, mapper *rowMapper) {
	r.sourceHeaders = header
	r.mappedHeaders = mapper.mappedHeaders()
	r.customHeaders = mapper.customHeaders()
	r.logf("info", "mapped %d of %d source columns", len(r.mappedHeaders), len(header))
}

func (s *Worker) HandleImportTask(ctx context.Context, t *asynq.Task) error {
	var payload ImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("batch_id", payload.BatchID.String()),
		zap.String("client_id", payload.ClientID.String()),
		zap.String("import_type", payload.ImportType.String()),
	)
	zapLog.Info("▶️ start import task")

	batch, err := s.batches.FindOne(ctx, &ImportBatch{ID: payload.BatchID})
	if err != nil {
		zapLog.Error("failed to load import batch", zap.Error(err))
		return err
	}
	if batch == nil {
		return fmt.Errorf("import batch %s not found", payload.BatchID)
	}
	// Retries of an already finished batch are no-ops, except for a batch
	// the user cancelled: its job must end failed, not completed.
	if batch.Status.Terminal() {
		if reason, _ := batch.Metadata["failureReason"].(string); reason == reasonCancelled {
			zapLog.Warn("batch cancelled, dropping job")
			return fmt.Errorf("import batch %s cancelled: %w", batch.BatchCode, asynq.SkipRetry)
		}
		zapLog.Warn("batch already finished, skipping", zap.String("status", string(batch.Status)))
		return nil
	}

	run := &batchRun{runID: batch.BatchCode}

	client, err := s.catalog.GetClient(ctx, batch.ClientID)
	if err != nil {
		zapLog.Error("failed to load client", zap.Error(err))
		return err
	}
	if client == nil || client.Status != catalog.ClientActive {
		return s.failBatch(ctx, zapLog, batch, run, fmt.Errorf("client not found or inactive"))
	}

	now := time.Now().UTC()
	if err := s.batches.Update(ctx, batch.ID.String(), map[string]any{
		"status":     StatusProcessing,
		"started_at": now,
	}); err != nil {
		zapLog.Error("failed to mark batch processing", zap.Error(err))
		return err
	}
	run.logf("info", "processing started for %s", batch.Filename)

	mapping, err := s.loadMapping(ctx, batch.MappingKey)
	if err != nil {
		return s.failBatch(ctx, zapLog, batch, run, err)
	}

	obj, err := s.storage.GetObject(ctx, s.config.Minio.BucketName, batch.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		return s.failBatch(ctx, zapLog, batch, run, fmt.Errorf("fetch import file: %w", err))
	}
	defer obj.Close()

	switch batch.ImportType {
	case TypeInventory:
		err = s.processInventory(ctx, batch, mapping, obj, run)
	case TypeOrders:
		err = s.processOrders(ctx, batch, mapping, obj, run)
	default:
		err = fmt.Errorf("unsupported import type %q", batch.ImportType)
	}
	if err != nil {
		// An interrupted context means the job was cancelled from outside;
		// the cancel endpoint has already closed the batch row.
		if ctx.Err() != nil {
			zapLog.Warn("import interrupted", zap.Error(err))
			return fmt.Errorf("import batch %s interrupted: %w", batch.BatchCode, asynq.SkipRetry)
		}
		return s.failBatch(ctx, zapLog, batch, run, err)
	}

	status := StatusCompleted
	if run.rows > 0 && run.processed == 0 {
		status = StatusFailed
		run.failure = fmt.Errorf("no rows could be imported")
		run.logf("error", "no rows could be imported")
		s.tracker.TrackError(ctx, run.failure, diagnostics.ErrorContext{
			RunID:     run.runID,
			Category:  diagnostics.CategoryImport,
			Operation: "process_batch",
			Details: map[string]any{
				"batch_code": batch.BatchCode,
				"row_count":  run.rows,
			},
		})
	}

	if err := s.finishBatch(ctx, batch, run, status); err != nil {
		zapLog.Error("failed to finalize batch", zap.Error(err))
		return err
	}

	if status == StatusCompleted {
		s.queueRecalculation(ctx, zapLog, batch)
	}

	zapLog.Info("🎉 import finished",
		zap.String("status", string(status)),
		zap.Int("rows", run.rows),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	)
	return nil
}

func (s *Worker) loadMapping(ctx context.Context, key string) (*MappingFile, error) {
	if key == "" {
		return nil, nil
	}

	obj, err := s.storage.GetObject(ctx, s.config.Minio.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch column mapping: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read column mapping: %w", err)
	}
	return ParseMapping(data)
}

func (s *Worker) processInventory(ctx context.Context, batch *ImportBatch, mapping *MappingFile, r io.Reader, run *batchRun) error {
	index, err := s.catalog.ProductIndex(ctx, batch.ClientID)
	if err != nil {
		return fmt.Errorf("load product index: %w", err)
	}

	var mapper *rowMapper
	now := time.Now().UTC()

	return parseRows(r, batch.Filename, s.config.Import.ChunkSize, func(header []string, startRow int, records [][]string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if mapper == nil {
			mapper = newRowMapper(header, mapping, batch.ImportType)
			run.setHeaders(header, mapper)
		}

		rowsOK := 0
		creates := make([]*catalog.Product, 0, len(records))
		updates := make([]*catalog.Product, 0, len(records))
		pendingNew := map[string]*catalog.Product{}

		for i, record := range records {
			run.rows++
			fields, custom := mapper.apply(record, now)
			row, err := cleanInventoryRow(fields)
			if err != nil {
				run.rejectRow(startRow+i, err)
				continue
			}

			product := &catalog.Product{
				ClientID:          batch.ClientID,
				SKU:               row.SKU,
				Name:              row.Name,
				ItemType:          row.ItemType,
				PackSize:          row.PackSize,
				CurrentStockPacks: row.StockPacks,
				CurrentStockUnits: row.StockUnits,
				NotificationPoint: row.NotificationPoint,
				UnitPrice:         row.UnitPrice,
				LeadDays:          5,
				ReviewDays:        7,
				IsActive:          true,
				CustomFields:      custom,
				ImportBatchID:     batch.ID,
			}
			rowsOK++

			if ref, ok := index[row.SKU]; ok {
				product.ID = ref.ID
				updates = append(updates, product)
				continue
			}
			// A SKU repeated within one file keeps its last occurrence.
			if prev, ok := pendingNew[row.SKU]; ok {
				id := prev.ID
				*prev = *product
				prev.ID = id
				continue
			}
			product.ID = s.node.Generate()
			pendingNew[row.SKU] = product
			creates = append(creates, product)
		}

		if err := s.catalog.SaveImported(ctx, creates, updates); err != nil {
			run.rejectRows(startRow, startRow+len(records)-1, rowsOK, fmt.Errorf("database error: %v", err))
			s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
				RunID:     run.runID,
				Category:  diagnostics.CategoryDatabase,
				Operation: "save_inventory_chunk",
				Details: map[string]any{
					"batch_code": batch.BatchCode,
					"start_row":  startRow,
					"rows":       len(records),
				},
				Recoverable: true,
			})
			s.flushProgress(ctx, batch, run)
			return nil
		}

		for sku, p := range pendingNew {
			index[sku] = catalog.ProductRef{ID: p.ID, PackSize: p.PackSize}
		}
		run.processed += rowsOK
		s.flushProgress(ctx, batch, run)
		return nil
	})
}

func (s *Worker) processOrders(ctx context.Context, batch *ImportBatch, mapping *MappingFile, r io.Reader, run *batchRun) error {
	index, err := s.catalog.ProductIndex(ctx, batch.ClientID)
	if err != nil {
		return fmt.Errorf("load product index: %w", err)
	}

	// Order inserts are not upserts, so rows committed by an interrupted
	// run must go before the file is replayed.
	purged, err := s.catalog.DeleteTransactionsForBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("clear rows from prior run: %w", err)
	}
	if purged > 0 {
		run.logf("warn", "removed %d order rows left by an interrupted run", purged)
	}

	var mapper *rowMapper
	now := time.Now().UTC()
	orphans := 0

	err = parseRows(r, batch.Filename, s.config.Import.ChunkSize, func(header []string, startRow int, records [][]string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if mapper == nil {
			mapper = newRowMapper(header, mapping, batch.ImportType)
			run.setHeaders(header, mapper)
		}

		rowsOK := 0
		inserts := make([]*catalog.Transaction, 0, len(records))

		for i, record := range records {
			run.rows++
			fields, _ := mapper.apply(record, now)
			row, err := cleanOrderRow(fields)
			if err != nil {
				run.rejectRow(startRow+i, err)
				continue
			}

			ref, ok := index[row.SKU]
			if !ok {
				product, err := s.catalog.CreateOrphan(ctx, batch.ClientID, row.SKU, batch.ID)
				if err != nil {
					run.rejectRow(startRow+i, fmt.Errorf("create placeholder product: %v", err))
					continue
				}
				ref = catalog.ProductRef{ID: product.ID, PackSize: product.PackSize}
				index[row.SKU] = ref
				orphans++
			}

			units := row.QuantityUnits
			if units == 0 && row.QuantityPacks > 0 {
				packSize := ref.PackSize
				if packSize <= 0 {
					packSize = 1
				}
				units = row.QuantityPacks * packSize
			}
			total := row.TotalValue
			if total == 0 && row.UnitPrice > 0 {
				total = row.UnitPrice * float64(units)
			}

			inserts = append(inserts, &catalog.Transaction{
				ID:             s.node.Generate(),
				ClientID:       batch.ClientID,
				ProductID:      ref.ID,
				OrderID:        row.OrderID,
				QuantityPacks:  row.QuantityPacks,
				QuantityUnits:  units,
				UnitPrice:      row.UnitPrice,
				TotalValue:     total,
				DateSubmitted:  row.DateSubmitted,
				OrderStatus:    row.OrderStatus,
				ShipToLocation: row.ShipToLocation,
				ShipToCompany:  row.ShipToCompany,
				ImportBatchID:  batch.ID,
			})
			rowsOK++
		}

		if err := s.catalog.InsertTransactions(ctx, inserts); err != nil {
			run.rejectRows(startRow, startRow+len(records)-1, rowsOK, fmt.Errorf("database error: %v", err))
			s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
				RunID:     run.runID,
				Category:  diagnostics.CategoryDatabase,
				Operation: "save_order_chunk",
				Details: map[string]any{
					"batch_code": batch.BatchCode,
					"start_row":  startRow,
					"rows":       len(records),
				},
				Recoverable: true,
			})
			s.flushProgress(ctx, batch, run)
			return nil
		}

		run.processed += rowsOK
		s.flushProgress(ctx, batch, run)
		return nil
	})
	if err != nil {
		return err
	}

	if orphans > 0 {
		run.logf("info", "created %d placeholder products for unknown SKUs", orphans)
	}
	return nil
}

// failBatch marks the batch failed and returns the cause so the queue can
// retry; a retry of a finished batch stops at the terminal guard.
func (s *Worker) failBatch(ctx context.Context, zapLog *zap.Logger, batch *ImportBatch, run *batchRun, cause error) error {
	zapLog.Error("import failed", zap.Error(cause))
	run.failure = cause
	run.logf("error", "import failed: %v", cause)

	s.tracker.TrackError(ctx, cause, diagnostics.ErrorContext{
		RunID:     run.runID,
		Category:  diagnostics.CategoryImport,
		Operation: "process_batch",
		Details: map[string]any{
			"batch_code":  batch.BatchCode,
			"import_type": batch.ImportType.String(),
			"filename":    batch.Filename,
		},
	})

	if err := s.finishBatch(ctx, batch, run, StatusFailed); err != nil {
		zapLog.Error("failed to mark batch failed", zap.Error(err))
	}
	return cause
}

func (s *Worker) finishBatch(ctx context.Context, batch *ImportBatch, run *batchRun, status BatchStatus) error {
	values := map[string]any{
		"status":          status,
		"row_count":       run.rows,
		"processed_count": run.processed,
		"error_count":     run.failed,
		"completed_at":    time.Now().UTC(),
	}
	if len(run.errors) > 0 {
		values["errors"] = marshalJSON(run.errors)
	}
	if len(run.logs) > 0 {
		values["diagnostic_logs"] = marshalJSON(run.logs)
	}
	if len(run.sourceHeaders) > 0 {
		values["source_headers"] = marshalJSON(run.sourceHeaders)
		values["mapped_headers"] = marshalJSON(run.mappedHeaders)
		values["custom_headers"] = marshalJSON(run.customHeaders)
	}
	if run.failure != nil {
		merged := datatypes.JSONMap{}
		for k, v := range batch.Metadata {
			merged[k] = v
		}
		merged["failureReason"] = run.failure.Error()
		values["metadata"] = merged
	}

	return s.batches.Update(ctx, batch.ID.String(), values)
}

// flushProgress keeps the batch counters current so list and detail reads
// can report progress mid run.
func (s *Worker) flushProgress(ctx context.Context, batch *ImportBatch, run *batchRun) {
	if err := s.batches.Update(ctx, batch.ID.String(), map[string]any{
		"row_count":       run.rows,
		"processed_count": run.processed,
		"error_count":     run.failed,
	}); err != nil {
		zap.L().Warn("failed to update batch progress",
			zap.String("batch_code", batch.BatchCode), zap.Error(err))
	}
}

func (s *Worker) queueRecalculation(ctx context.Context, zapLog *zap.Logger, batch *ImportBatch) {
	runCode, err := s.seq.NextRunCode(ctx)
	if err != nil {
		zapLog.Warn("failed to allocate run code", zap.Error(err))
	}

	t := analytics.NewRecalculateTask(analytics.RecalculatePayload{
		ClientID: batch.ClientID,
		BatchID:  batch.ID,
		RunID:    runCode,
	})
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		zapLog.Error("failed to enqueue analytics recalculation", zap.Error(err))
		s.tracker.TrackError(ctx, err, diagnostics.ErrorContext{
			RunID:       batch.BatchCode,
			Category:    diagnostics.CategoryImport,
			Operation:   "queue_recalculation",
			Details:     map[string]any{"batch_code": batch.BatchCode},
			Recoverable: true,
		})
		return
	}

	if err := s.stampMetadata(ctx, batch, map[string]any{
		"analyticsQueued":   true,
		"analyticsQueuedAt": time.Now().UTC().Format(time.RFC3339),
		"analyticsRunId":    runCode,
	}); err != nil {
		zapLog.Warn("failed to stamp batch metadata", zap.Error(err))
	}
	zapLog.Info("analytics recalculation queued", zap.String("run_id", runCode))
}

// MarkAnalyticsRecalculated stamps the originating batch once the analytics
// worker has refreshed the client's metrics.
func (s *Worker) MarkAnalyticsRecalculated(ctx context.Context, batchID snowflake.ID, runID string) error {
	batch, err := s.batches.FindOne(ctx, &ImportBatch{ID: batchID})
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	return s.stampMetadata(ctx, batch, map[string]any{
		"analyticsRecalculated":   true,
		"analyticsRecalculatedAt": time.Now().UTC().Format(time.RFC3339),
		"analyticsRunId":          runID,
	})
}

func (s *Worker) stampMetadata(ctx context.Context, batch *ImportBatch, keys map[string]any) error {
	merged := datatypes.JSONMap{}
	for k, v := range batch.Metadata {
		merged[k] = v
	}
	for k, v := range keys {
		merged[k] = v
	}
	batch.Metadata = merged
	return s.batches.Update(ctx, batch.ID.String(), map[string]any{"metadata": merged})
}

func marshalJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
