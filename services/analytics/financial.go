package analytics

import "math"

const (
	// holdingCostRate is the industry-standard 25% annual carrying cost.
	holdingCostRate = 0.25
	// defaultOrderCost is the assumed fixed cost of placing one order.
	defaultOrderCost = 50.0
	// reorderDeviationLimit flags products whose implied order quantity
	// strays from the economic optimum by more than a quarter.
	reorderDeviationLimit = 0.25
)

// InventoryValue prices the current stock. Zero when no unit price is known.
func InventoryValue(stockUnits int, unitPrice float64) float64 {
	if unitPrice <= 0 || stockUnits <= 0 {
		return 0
	}
	return round2(float64(stockUnits) * unitPrice)
}

// MonthlyHoldingCost spreads the annual carrying cost of the held value over
// twelve months.
func MonthlyHoldingCost(inventoryValue float64) float64 {
	if inventoryValue <= 0 {
		return 0
	}
	return round2(inventoryValue * holdingCostRate / 12)
}

// EconomicOrderQuantity is the Wilson formula sqrt(2DS/H) with D annual
// demand in units, S the per-order cost, and H the annual holding cost per
// unit. Zero when any input is unusable.
func EconomicOrderQuantity(annualDemand, orderCost, unitCost float64) float64 {
	if annualDemand <= 0 || orderCost <= 0 || unitCost <= 0 {
		return 0
	}
	holdingPerUnit := unitCost * holdingCostRate
	return math.Round(math.Sqrt(2 * annualDemand * orderCost / holdingPerUnit))
}

// ReorderDeviation measures how far the implied monthly order quantity
// strays from the economic order quantity, as a fraction of the optimum.
func ReorderDeviation(eoq, monthlyOrderQty float64) float64 {
	if eoq <= 0 || monthlyOrderQty <= 0 {
		return 0
	}
	return math.Abs(eoq-monthlyOrderQty) / eoq
}

// StockoutRiskCost estimates the revenue lost if stock runs out before a
// replenishment can land: usage during the uncovered gap priced per unit.
// Zero when the projection clears the lead time.
func StockoutRiskCost(daysUntilStockout, dailyUsage, unitPrice float64, totalLeadDays int) float64 {
	if daysUntilStockout <= 0 || dailyUsage <= 0 || unitPrice <= 0 {
		return 0
	}
	if daysUntilStockout >= float64(totalLeadDays) {
		return 0
	}
	uncovered := float64(totalLeadDays) - daysUntilStockout
	return round2(uncovered * dailyUsage * unitPrice)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
