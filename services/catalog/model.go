package catalog

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ClientStatus string

var (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
)

func (s ClientStatus) String() string {
	switch s {
	case ClientActive, ClientInactive:
		return string(s)
	default:
		return ""
	}
}

// Client is an owning tenant. Code is the human slug carried on import
// submissions and derived from the name when not supplied.
type Client struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Code      string       `gorm:"column:code;uniqueIndex;not null" json:"code"`
	Name      string       `gorm:"column:name;not null" json:"name"`
	Status    ClientStatus `gorm:"column:status;default:'active'" json:"status"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

type UsageTier string

var (
	Tier12Month UsageTier = "12_month"
	Tier6Month  UsageTier = "6_month"
	Tier3Month  UsageTier = "3_month"
	TierWeekly  UsageTier = "weekly"
)

type UsageConfidence string

var (
	ConfidenceHigh   UsageConfidence = "high"
	ConfidenceMedium UsageConfidence = "medium"
	ConfidenceLow    UsageConfidence = "low"
)

type StockStatus string

var (
	StockCritical StockStatus = "critical"
	StockLow      StockStatus = "low"
	StockWatch    StockStatus = "watch"
	StockHealthy  StockStatus = "healthy"
)

// Product is one per-client catalog row keyed by (client_id, sku). The
// usage and timing columns are owned by the analytics recalculator; the
// import worker only writes the identity and stock fields.
type Product struct {
	ID       snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	ClientID snowflake.ID `gorm:"column:client_id;uniqueIndex:ux_products_client_sku;not null" json:"client_id"`
	SKU      string       `gorm:"column:sku;uniqueIndex:ux_products_client_sku;not null" json:"sku"`
	Name     string       `gorm:"column:name" json:"name"`
	ItemType string       `gorm:"column:item_type" json:"item_type,omitempty"`

	PackSize          int     `gorm:"column:pack_size;default:1" json:"pack_size"`
	CurrentStockPacks int     `gorm:"column:current_stock_packs;default:0" json:"current_stock_packs"`
	CurrentStockUnits int     `gorm:"column:current_stock_units;default:0" json:"current_stock_units"`
	NotificationPoint int     `gorm:"column:notification_point" json:"notification_point"`
	LeadDays          int     `gorm:"column:lead_days;default:5" json:"lead_days"`
	ReviewDays        int     `gorm:"column:review_days;default:7" json:"review_days"`
	UnitPrice         float64 `gorm:"column:unit_price" json:"unit_price"`

	MonthlyUsageUnits    float64         `gorm:"column:monthly_usage_units" json:"monthly_usage_units"`
	MonthlyUsagePacks    float64         `gorm:"column:monthly_usage_packs" json:"monthly_usage_packs"`
	AvgDailyUsage        float64         `gorm:"column:avg_daily_usage" json:"avg_daily_usage"`
	UsageDataMonths      int             `gorm:"column:usage_data_months" json:"usage_data_months"`
	UsageCalculationTier UsageTier       `gorm:"column:usage_calculation_tier" json:"usage_calculation_tier,omitempty"`
	UsageConfidence      UsageConfidence `gorm:"column:usage_confidence" json:"usage_confidence,omitempty"`
	UsageLastCalculated  *time.Time      `gorm:"column:usage_last_calculated" json:"usage_last_calculated,omitempty"`

	WeeksRemaining        int         `gorm:"column:weeks_remaining" json:"weeks_remaining"`
	StockStatus           StockStatus `gorm:"column:stock_status" json:"stock_status,omitempty"`
	ProjectedStockoutDate *time.Time  `gorm:"column:projected_stockout_date" json:"projected_stockout_date,omitempty"`
	LastOrderByDate       *time.Time  `gorm:"column:last_order_by_date" json:"last_order_by_date,omitempty"`
	TimingLastCalculated  *time.Time  `gorm:"column:timing_last_calculated" json:"timing_last_calculated,omitempty"`

	IsActive      bool              `gorm:"column:is_active;default:true" json:"is_active"`
	IsOrphan      bool              `gorm:"column:is_orphan;default:false" json:"is_orphan"`
	CustomFields  datatypes.JSONMap `gorm:"column:custom_fields;type:jsonb" json:"custom_fields,omitempty"`
	ImportBatchID snowflake.ID      `gorm:"column:import_batch_id;index" json:"import_batch_id,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Transaction is one order-history row. Rows with a completed order status
// feed the monthly usage recalculation.
type Transaction struct {
	ID             snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	ClientID       snowflake.ID `gorm:"column:client_id;index;not null" json:"client_id"`
	ProductID      snowflake.ID `gorm:"column:product_id;index;not null" json:"product_id"`
	OrderID        string       `gorm:"column:order_id;index" json:"order_id"`
	QuantityPacks  int          `gorm:"column:quantity_packs" json:"quantity_packs"`
	QuantityUnits  int          `gorm:"column:quantity_units" json:"quantity_units"`
	UnitPrice      float64      `gorm:"column:unit_price" json:"unit_price"`
	TotalValue     float64      `gorm:"column:total_value" json:"total_value"`
	DateSubmitted  time.Time    `gorm:"column:date_submitted;index" json:"date_submitted"`
	OrderStatus    string       `gorm:"column:order_status;default:'completed'" json:"order_status"`
	ShipToLocation string       `gorm:"column:ship_to_location" json:"ship_to_location,omitempty"`
	ShipToCompany  string       `gorm:"column:ship_to_company" json:"ship_to_company,omitempty"`
	ImportBatchID  snowflake.ID `gorm:"column:import_batch_id;index" json:"import_batch_id,omitempty"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// OrderStatusCompleted marks the transactions counted as consumption.
const OrderStatusCompleted = "completed"
