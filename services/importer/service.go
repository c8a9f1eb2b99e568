package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stockplane/pkg/config"
	"stockplane/pkg/db/option"
	"stockplane/pkg/db/pagination"
	"stockplane/pkg/errutil"
	"stockplane/pkg/featureflags"
	"stockplane/pkg/repository"
	"stockplane/pkg/sequence"
	"stockplane/services/analytics"
	"stockplane/services/catalog"
)

// Service owns the import submission and query surface. Files land in the
// bucket first so the worker binary can pick them up from any node.
type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	config    *config.Config
	storage   *minio.Client
	catalog   *catalog.Service
	analytics *analytics.Service
	flags     featureflags.FeatureFlag
	queue     *Queue
	seq       sequence.Generator

	batches repository.Repository[ImportBatch]
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Storage   *minio.Client
	Catalog   *catalog.Service
	Analytics *analytics.Service
	Flags     featureflags.FeatureFlag
	Queue     *Queue
	Sequence  sequence.Generator
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		config:    p.Config,
		storage:   p.Storage,
		catalog:   p.Catalog,
		analytics: p.Analytics,
		flags:     p.Flags,
		queue:     p.Queue,
		seq:       p.Sequence,
		batches:   repository.ProvideStore[ImportBatch](p.DB),
	}
}

// SubmitInput carries one upload. ClientCode is the public client code from
// the form's client_id field.
type SubmitInput struct {
	ClientCode  string
	ImportType  ImportType
	ImportedBy  string
	Filename    string
	ContentType string
	File        io.Reader
	FileSize    int64
	Mapping     io.Reader
}

// SubmitImport stores the upload and its optional mapping sidecar in the
// bucket, records the batch, and enqueues the processing job. The batch
// returns immediately; callers poll for progress.
func (s *Service) SubmitImport(ctx context.Context, in SubmitInput) (*ImportBatch, error) {
	if s.flags.IsEnabled(ctx, featureflags.ImportsPaused) {
		return nil, errutil.ServiceUnavailable("imports are temporarily paused", nil)
	}
	if !in.ImportType.Valid() {
		return nil, errutil.BadRequest("import_type must be inventory or orders", nil)
	}

	ext := strings.ToLower(filepath.Ext(in.Filename))
	if ext != ".csv" && ext != ".xlsx" && ext != ".txt" {
		return nil, errutil.UnsupportedMediaType("only CSV and XLSX files are supported", nil)
	}

	client, err := s.catalog.ActiveClient(ctx, in.ClientCode)
	if err != nil {
		return nil, err
	}

	batchID := s.node.Generate()
	batchCode, err := s.seq.NextBatchCode(ctx, client.Code)
	if err != nil {
		zap.L().Error("failed to allocate batch code", zap.Error(err))
		return nil, errutil.Internal("failed to allocate batch code", err)
	}

	objectKey := fmt.Sprintf("imports/%s/%s/%s", client.Code, batchCode, in.Filename)
	checksum, err := s.storeFile(ctx, objectKey, in)
	if err != nil {
		return nil, err
	}

	mappingKey := ""
	if in.Mapping != nil {
		mappingKey = fmt.Sprintf("imports/%s/%s/mapping.json", client.Code, batchCode)
		if err := s.storeMapping(ctx, mappingKey, in.Mapping); err != nil {
			return nil, err
		}
	}

	batch := &ImportBatch{
		ID:           batchID,
		BatchCode:    batchCode,
		ClientID:     client.ID,
		ImportedBy:   in.ImportedBy,
		ImportType:   in.ImportType,
		Filename:     in.Filename,
		ObjectKey:    objectKey,
		MappingKey:   mappingKey,
		FileChecksum: checksum,
		Status:       StatusPending,
		Metadata:     datatypes.JSONMap{"source": "api"},
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		zap.L().Error("failed to create import batch", zap.Error(err))
		return nil, errutil.Internal("failed to create import batch", err)
	}

	if err := s.queue.Enqueue(ctx, ImportPayload{
		BatchID:    batch.ID,
		ClientID:   batch.ClientID,
		ObjectKey:  batch.ObjectKey,
		MappingKey: batch.MappingKey,
		ImportType: batch.ImportType,
	}); err != nil {
		zap.L().Error("failed to enqueue import job",
			zap.String("batch_code", batch.BatchCode), zap.Error(err))
		return nil, errutil.Internal("failed to enqueue import job", err)
	}

	zap.L().Info("import submitted",
		zap.String("batch_code", batch.BatchCode),
		zap.String("client_code", client.Code),
		zap.String("import_type", in.ImportType.String()),
		zap.String("filename", in.Filename),
	)
	return batch, nil
}

// storeFile streams the upload to the bucket while hashing it, so the batch
// records the checksum without a second pass.
func (s *Service) storeFile(ctx context.Context, key string, in SubmitInput) (string, error) {
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hasher := sha256.New()
	reader := io.TeeReader(in.File, hasher)

	if _, err := s.storage.PutObject(ctx, s.config.Minio.BucketName, key, reader, in.FileSize,
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		zap.L().Error("failed to store import file", zap.String("object_key", key), zap.Error(err))
		return "", errutil.BadGateway("failed to store import file", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// storeMapping validates the sidecar before storing it; a broken mapping is
// rejected at submit time instead of failing the batch later.
func (s *Service) storeMapping(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errutil.BadRequest("failed to read mapping file", err)
	}
	if _, err := ParseMapping(data); err != nil {
		return errutil.UnprocessableEntity("invalid column mapping", err)
	}

	if _, err := s.storage.PutObject(ctx, s.config.Minio.BucketName, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		zap.L().Error("failed to store mapping file", zap.String("object_key", key), zap.Error(err))
		return errutil.BadGateway("failed to store mapping file", err)
	}
	return nil
}

// BatchView decorates a batch with its owner and the status glyph.
type BatchView struct {
	*ImportBatch
	StatusGlyph string `json:"status_glyph"`
	ClientCode  string `json:"client_code,omitempty"`
	ClientName  string `json:"client_name,omitempty"`
}

// BatchDetail adds the live queue state and coarse progress to one batch.
type BatchDetail struct {
	BatchView
	Job      *JobStatus `json:"job,omitempty"`
	Progress float64    `json:"progress"`
}

type ListQuery struct {
	pagination.Pagination
	ClientCode string `form:"client_id"`
}

// ListImports pages recent batches newest first, optionally scoped to one
// client code.
func (s *Service) ListImports(ctx context.Context, q ListQuery) ([]BatchView, *pagination.PageInfo, error) {
	filter := &ImportBatch{}
	if q.ClientCode != "" {
		client, err := s.catalog.ClientByCode(ctx, q.ClientCode)
		if err != nil {
			return nil, nil, errutil.Internal("failed to resolve client", err)
		}
		if client == nil {
			return nil, nil, errutil.NotFound("client not found", nil)
		}
		filter.ClientID = client.ID
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.batches.Find(ctx, filter, option.ApplyPagination(q.Pagination))
	if err != nil {
		return nil, nil, errutil.Internal("failed to list import batches", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(b *ImportBatch) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        b.ID.String(),
		})
		return cursor
	})
	if pageInfo.HasMore {
		rows = rows[:limit]
	}

	return s.decorate(ctx, rows), pageInfo, nil
}

// ListFailures lists batches needing triage: failed outright or completed
// with row errors.
func (s *Service) ListFailures(ctx context.Context, limit int) ([]BatchView, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.batches.Find(ctx, nil,
		func(db *gorm.DB) *gorm.DB {
			return db.Where("status = ? OR error_count > 0", StatusFailed)
		},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list import failures", err)
	}

	return s.decorate(ctx, rows), nil
}

// GetImport returns one batch with its live job state. A job missing from
// the queue backend is not an error; finished jobs age out of retention
// while the batch row stays.
func (s *Service) GetImport(ctx context.Context, id snowflake.ID) (*BatchDetail, error) {
	batch, err := s.batches.FindOne(ctx, &ImportBatch{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load import batch", err)
	}
	if batch == nil {
		return nil, errutil.NotFound("import batch not found", nil)
	}

	views := s.decorate(ctx, []*ImportBatch{batch})
	detail := &BatchDetail{
		BatchView: views[0],
		Progress:  batchProgress(batch),
	}

	job, err := s.queue.Status(ctx, batch.ID)
	switch {
	case errors.Is(err, ErrJobNotFound):
	case err != nil:
		zap.L().Warn("failed to query job status",
			zap.String("batch_code", batch.BatchCode), zap.Error(err))
	default:
		detail.Job = job
	}

	return detail, nil
}

// CancelImport stops a batch that has not finished. The queue decides what
// is still stoppable; a cancelled batch is closed out as failed.
func (s *Service) CancelImport(ctx context.Context, id snowflake.ID) (bool, JobState, error) {
	var (
		cancelled bool
		state     JobState
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches := s.batches.WithTrx(tx)

		batch, err := batches.FindOne(ctx, &ImportBatch{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to load import batch", err)
		}
		if batch == nil {
			return errutil.NotFound("import batch not found", nil)
		}
		if batch.Status.Terminal() {
			return nil
		}

		ok, jobState, err := s.queue.Cancel(ctx, batch.ID)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return errutil.Internal("failed to cancel import job", err)
		}
		state = jobState
		if !ok {
			return nil
		}

		merged := datatypes.JSONMap{}
		for k, v := range batch.Metadata {
			merged[k] = v
		}
		merged["failureReason"] = reasonCancelled

		if err := batches.Update(ctx, batch.ID.String(), map[string]any{
			"status":       StatusFailed,
			"completed_at": time.Now().UTC(),
			"metadata":     merged,
		}); err != nil {
			return errutil.Internal("failed to mark batch cancelled", err)
		}

		cancelled = true
		zap.L().Info("import cancelled",
			zap.String("batch_code", batch.BatchCode),
			zap.String("job_state", string(jobState)),
		)
		return nil
	})

	return cancelled, state, err
}

// Stats is the aggregate health signal for dashboards.
type Stats struct {
	Clients      int64 `json:"clients"`
	Products     int64 `json:"products"`
	Transactions int64 `json:"transactions"`
	Snapshots    int64 `json:"snapshots"`
	Imports      struct {
		Total     int64 `json:"total"`
		Completed int64 `json:"completed"`
		Failed    int64 `json:"failed"`
	} `json:"imports"`
}

func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	totals, err := s.catalog.Totals(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load catalog totals", err)
	}
	snapshots, err := s.analytics.CountSnapshots(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to count snapshots", err)
	}

	stats := &Stats{
		Clients:      totals.Clients,
		Products:     totals.Products,
		Transactions: totals.Transactions,
		Snapshots:    snapshots,
	}
	if stats.Imports.Total, err = s.batches.Count(ctx, nil); err != nil {
		return nil, errutil.Internal("failed to count import batches", err)
	}
	if stats.Imports.Completed, err = s.batches.Count(ctx, &ImportBatch{Status: StatusCompleted}); err != nil {
		return nil, errutil.Internal("failed to count import batches", err)
	}
	if stats.Imports.Failed, err = s.batches.Count(ctx, &ImportBatch{Status: StatusFailed}); err != nil {
		return nil, errutil.Internal("failed to count import batches", err)
	}

	return stats, nil
}

func (s *Service) decorate(ctx context.Context, rows []*ImportBatch) []BatchView {
	clients := map[snowflake.ID]*catalog.Client{}
	for _, b := range rows {
		if _, ok := clients[b.ClientID]; ok {
			continue
		}
		client, err := s.catalog.GetClient(ctx, b.ClientID)
		if err != nil {
			zap.L().Warn("failed to load client for batch",
				zap.String("batch_code", b.BatchCode), zap.Error(err))
		}
		clients[b.ClientID] = client
	}

	views := make([]BatchView, 0, len(rows))
	for _, b := range rows {
		view := BatchView{ImportBatch: b, StatusGlyph: b.Status.Glyph()}
		if client := clients[b.ClientID]; client != nil {
			view.ClientCode = client.Code
			view.ClientName = client.Name
		}
		views = append(views, view)
	}
	return views
}

func batchProgress(b *ImportBatch) float64 {
	if b.RowCount > 0 {
		return 100 * float64(b.ProcessedCount) / float64(b.RowCount)
	}
	if b.Status.Terminal() {
		return 100
	}
	return 0
}
