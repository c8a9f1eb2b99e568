package analytics

import (
	"math"
	"time"

	"stockplane/services/catalog"
)

// InfiniteWeeks is the weeks-remaining sentinel for products with no
// measurable consumption.
const InfiniteWeeks = 999

// CalculateTiming projects stockout and reorder dates from the current stock
// level and daily usage rate. With zero usage the supply is effectively
// infinite: weeks remaining pins to the sentinel and no dates are produced.
// totalLeadDays is supplier lead time plus the review cadence.
func CalculateTiming(now time.Time, stockUnits int, avgDailyUsage float64, totalLeadDays int) TimingResult {
	if avgDailyUsage <= 0 {
		return TimingResult{
			WeeksRemaining: InfiniteWeeks,
			StockStatus:    ClassifyStock(InfiniteWeeks),
		}
	}

	days := float64(stockUnits) / avgDailyUsage

	weeks := int(math.Floor(float64(stockUnits) / (avgDailyUsage * 7)))
	if weeks > InfiniteWeeks {
		weeks = InfiniteWeeks
	}

	stockout := now.AddDate(0, 0, int(math.Floor(days)))
	lastOrder := stockout.AddDate(0, 0, -totalLeadDays)

	return TimingResult{
		WeeksRemaining:        weeks,
		StockStatus:           ClassifyStock(weeks),
		DaysUntilStockout:     days,
		ProjectedStockoutDate: &stockout,
		LastOrderByDate:       &lastOrder,
	}
}

// ClassifyStock maps weeks of supply to the operator-facing status. First
// match wins, boundaries inclusive.
func ClassifyStock(weeksRemaining int) catalog.StockStatus {
	switch {
	case weeksRemaining <= 1:
		return catalog.StockCritical
	case weeksRemaining <= 2:
		return catalog.StockLow
	case weeksRemaining <= 4:
		return catalog.StockWatch
	default:
		return catalog.StockHealthy
	}
}
