package analytics

import (
	"sort"

	"stockplane/services/catalog"
)

// daysPerMonth is the mean Gregorian month length used to convert monthly
// usage into a daily rate.
const daysPerMonth = 30.44

// tierFor maps the number of distinct months with data to the calculation
// tier, its confidence label, and how many of the most recent months enter
// the average. Below twelve months of history confidence degrades, below
// three the weekly tier averages whatever little there is.
func tierFor(months int) (catalog.UsageTier, catalog.UsageConfidence, int) {
	switch {
	case months >= 12:
		return catalog.Tier12Month, catalog.ConfidenceHigh, 12
	case months >= 6:
		return catalog.Tier6Month, catalog.ConfidenceMedium, 6
	case months >= 3:
		return catalog.Tier3Month, catalog.ConfidenceMedium, months
	default:
		return catalog.TierWeekly, catalog.ConfidenceLow, months
	}
}

// CalculateUsage derives the monthly usage rate from per-month totals
// ordered oldest to newest. The result is a pure function of its inputs so a
// re-run over the same transactions lands on identical values.
func CalculateUsage(totals []MonthlyTotal, packSize int) UsageResult {
	tier, confidence, window := tierFor(len(totals))

	selected := totals
	if window < len(totals) {
		selected = totals[len(totals)-window:]
	}

	var sum float64
	for _, t := range selected {
		sum += t.Units
	}

	var monthly float64
	if len(selected) > 0 {
		monthly = sum / float64(len(selected))
	}

	if packSize <= 0 {
		packSize = 1
	}

	return UsageResult{
		MonthlyUsageUnits: monthly,
		MonthlyUsagePacks: monthly / float64(packSize),
		AvgDailyUsage:     monthly / daysPerMonth,
		DataMonths:        len(totals),
		Tier:              tier,
		Confidence:        confidence,
	}
}

// BucketByMonth groups completed transactions into calendar-month totals,
// oldest first. Non-completed rows are ignored.
func BucketByMonth(rows []*catalog.Transaction) []MonthlyTotal {
	byMonth := make(map[string]float64)
	for _, row := range rows {
		if row.OrderStatus != catalog.OrderStatusCompleted {
			continue
		}
		key := row.DateSubmitted.UTC().Format("2006-01")
		byMonth[key] += float64(row.QuantityUnits)
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	totals := make([]MonthlyTotal, 0, len(months))
	for _, m := range months {
		totals = append(totals, MonthlyTotal{Month: m, Units: byMonth[m]})
	}
	return totals
}
