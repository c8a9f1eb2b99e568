package analytics

import (
	"time"

	"github.com/bwmarrin/snowflake"

	"stockplane/services/catalog"
)

// AnalyticsSnapshot is the per-client aggregate written after each
// recalculation run. It powers the stats health signal and gives operators a
// run-over-run view of inventory economics.
type AnalyticsSnapshot struct {
	ID                snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	ClientID          snowflake.ID `gorm:"column:client_id;index;not null" json:"client_id"`
	RunID             string       `gorm:"column:run_id;index" json:"run_id"`
	ProductsEvaluated int          `gorm:"column:products_evaluated" json:"products_evaluated"`
	ProductsFailed    int          `gorm:"column:products_failed" json:"products_failed"`
	InventoryValue    float64      `gorm:"column:inventory_value" json:"inventory_value"`
	MonthlyHolding    float64      `gorm:"column:monthly_holding" json:"monthly_holding"`
	MonthlyUsageValue float64      `gorm:"column:monthly_usage_value" json:"monthly_usage_value"`
	ReorderFlagged    int          `gorm:"column:reorder_flagged" json:"reorder_flagged"`
	BelowNotification int          `gorm:"column:below_notification" json:"below_notification"`
	StockoutRiskCost  float64      `gorm:"column:stockout_risk_cost" json:"stockout_risk_cost"`
	GeneratedAt       time.Time    `gorm:"column:generated_at;autoCreateTime" json:"generated_at"`
}

// MonthlyTotal is the summed completed-order quantity for one calendar
// month, keyed YYYY-MM.
type MonthlyTotal struct {
	Month string
	Units float64
}

// UsageResult is the outcome of one product's usage recalculation.
type UsageResult struct {
	MonthlyUsageUnits float64
	MonthlyUsagePacks float64
	AvgDailyUsage     float64
	DataMonths        int
	Tier              catalog.UsageTier
	Confidence        catalog.UsageConfidence
}

// TimingResult is the outcome of one product's stockout projection.
type TimingResult struct {
	WeeksRemaining        int
	StockStatus           catalog.StockStatus
	DaysUntilStockout     float64
	ProjectedStockoutDate *time.Time
	LastOrderByDate       *time.Time
}
