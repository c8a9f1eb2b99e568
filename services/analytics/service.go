package analytics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"stockplane/pkg/config"
	"stockplane/pkg/repository"
	"stockplane/pkg/sequence"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
)

// BatchMarker lets the recalculator stamp the originating import batch once
// its analytics are refreshed. The import service provides it; in processes
// without one the stamp is skipped.
type BatchMarker interface {
	MarkAnalyticsRecalculated(ctx context.Context, batchID snowflake.ID, runID string) error
}

type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	config       *config.Config
	seq          sequence.Generator
	tracker      *diagnostics.Service
	marker       BatchMarker
	products     repository.Repository[catalog.Product]
	transactions repository.Repository[catalog.Transaction]
	snapshots    repository.Repository[AnalyticsSnapshot]
}

type Params struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Seq     sequence.Generator
	Tracker *diagnostics.Service
	Marker  BatchMarker `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		config:       p.Config,
		seq:          p.Seq,
		tracker:      p.Tracker,
		marker:       p.Marker,
		products:     repository.ProvideStore[catalog.Product](p.DB),
		transactions: repository.ProvideStore[catalog.Transaction](p.DB),
		snapshots:    repository.ProvideStore[AnalyticsSnapshot](p.DB),
	}
}

// RecalculateProduct refreshes one product's usage and timing columns from
// its full transaction history. Re-runs over the same transactions write the
// same values; a product whose usage dried up gets its projections cleared
// rather than left stale.
func (s *Service) RecalculateProduct(ctx context.Context, p *catalog.Product, now time.Time) (UsageResult, TimingResult, error) {
	rows, err := s.transactions.Find(ctx, &catalog.Transaction{ProductID: p.ID})
	if err != nil {
		return UsageResult{}, TimingResult{}, fmt.Errorf("load transactions: %w", err)
	}

	usage := CalculateUsage(BucketByMonth(rows), p.PackSize)
	timing := CalculateTiming(now, p.CurrentStockUnits, usage.AvgDailyUsage, p.LeadDays+p.ReviewDays)

	cols := map[string]any{
		"monthly_usage_units":     usage.MonthlyUsageUnits,
		"monthly_usage_packs":     usage.MonthlyUsagePacks,
		"avg_daily_usage":         usage.AvgDailyUsage,
		"usage_data_months":       usage.DataMonths,
		"usage_calculation_tier":  usage.Tier,
		"usage_confidence":        usage.Confidence,
		"usage_last_calculated":   now,
		"weeks_remaining":         timing.WeeksRemaining,
		"stock_status":            timing.StockStatus,
		"projected_stockout_date": timing.ProjectedStockoutDate,
		"last_order_by_date":      timing.LastOrderByDate,
		"timing_last_calculated":  now,
	}
	if err := s.products.Update(ctx, p.ID.String(), cols); err != nil {
		return UsageResult{}, TimingResult{}, fmt.Errorf("persist metrics: %w", err)
	}

	return usage, timing, nil
}

// RecalculateClient refreshes every product the client owns, bounded
// parallel, and writes the run's AnalyticsSnapshot. A run aborts once it
// sees too many failures in a row without a success in between; scattered
// per-product failures are tracked and skipped.
func (s *Service) RecalculateClient(ctx context.Context, clientID snowflake.ID, runID string) (*AnalyticsSnapshot, error) {
	products, err := s.products.Find(ctx, &catalog.Product{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	limit := s.config.Analytics.Concurrency
	if limit <= 0 {
		limit = 4
	}
	maxFailures := s.config.Analytics.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	now := time.Now().UTC()
	snapshot := &AnalyticsSnapshot{
		ID:          s.node.Generate(),
		ClientID:    clientID,
		RunID:       runID,
		GeneratedAt: now,
	}

	var (
		mu          sync.Mutex
		consecutive atomic.Int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, p := range products {
		g.Go(func() error {
			usage, timing, err := s.RecalculateProduct(gctx, p, now)
			if err != nil {
				failures := consecutive.Add(1)
				s.tracker.TrackError(gctx, err, diagnostics.ErrorContext{
					RunID:       runID,
					Category:    diagnostics.CategoryAnalytics,
					Operation:   "recalculate_product",
					Details:     map[string]any{"sku": p.SKU, "product_id": p.ID.String()},
					Recoverable: true,
				})
				mu.Lock()
				snapshot.ProductsFailed++
				mu.Unlock()
				if int(failures) >= maxFailures {
					return fmt.Errorf("recalculation aborted after %d consecutive failures: %w", failures, err)
				}
				return nil
			}
			consecutive.Store(0)

			value := InventoryValue(p.CurrentStockUnits, p.UnitPrice)
			eoq := EconomicOrderQuantity(usage.MonthlyUsageUnits*12, defaultOrderCost, p.UnitPrice)

			mu.Lock()
			snapshot.ProductsEvaluated++
			snapshot.InventoryValue += value
			snapshot.MonthlyHolding += MonthlyHoldingCost(value)
			if p.UnitPrice > 0 {
				snapshot.MonthlyUsageValue += round2(usage.MonthlyUsageUnits * p.UnitPrice)
			}
			if ReorderDeviation(eoq, usage.MonthlyUsageUnits) > reorderDeviationLimit {
				snapshot.ReorderFlagged++
			}
			if p.NotificationPoint > 0 && p.CurrentStockPacks <= p.NotificationPoint {
				snapshot.BelowNotification++
			}
			snapshot.StockoutRiskCost += StockoutRiskCost(
				timing.DaysUntilStockout, usage.AvgDailyUsage, p.UnitPrice, p.LeadDays+p.ReviewDays)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	s.tracker.TrackHealth(ctx, runID, diagnostics.CategoryAnalytics, "client_recalculation",
		fmt.Sprintf("recalculated %d products, %d failed", snapshot.ProductsEvaluated, snapshot.ProductsFailed))

	zap.L().Info("analytics recalculation completed",
		zap.String("client_id", clientID.String()),
		zap.String("run_id", runID),
		zap.Int("products", snapshot.ProductsEvaluated),
		zap.Int("failed", snapshot.ProductsFailed))

	return snapshot, nil
}

// CountSnapshots reports how many runs have been recorded, for the stats
// endpoint.
func (s *Service) CountSnapshots(ctx context.Context) (int64, error) {
	return s.snapshots.Count(ctx, nil)
}
