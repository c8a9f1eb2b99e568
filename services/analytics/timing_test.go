package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockplane/services/catalog"
)

func TestCalculateTimingZeroUsage(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	result := CalculateTiming(now, 500, 0, 12)

	require.Equal(t, InfiniteWeeks, result.WeeksRemaining)
	require.Equal(t, catalog.StockHealthy, result.StockStatus)
	require.Nil(t, result.ProjectedStockoutDate)
	require.Nil(t, result.LastOrderByDate)
	require.Zero(t, result.DaysUntilStockout)
}

func TestCalculateTimingProjection(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	// 100 units at 2/day: 50 days of cover, order 12 days before that.
	result := CalculateTiming(now, 100, 2, 12)

	require.Equal(t, 7, result.WeeksRemaining)
	require.Equal(t, catalog.StockHealthy, result.StockStatus)
	require.InDelta(t, 50.0, result.DaysUntilStockout, 1e-9)

	require.NotNil(t, result.ProjectedStockoutDate)
	require.Equal(t, now.AddDate(0, 0, 50), *result.ProjectedStockoutDate)
	require.NotNil(t, result.LastOrderByDate)
	require.Equal(t, now.AddDate(0, 0, 38), *result.LastOrderByDate)
}

func TestCalculateTimingFloorsWeeks(t *testing.T) {
	now := time.Now().UTC()

	// 13 days of cover floors to 1 week; boundary inclusive → critical.
	result := CalculateTiming(now, 13, 1, 5)
	require.Equal(t, 1, result.WeeksRemaining)
	require.Equal(t, catalog.StockCritical, result.StockStatus)
}

func TestClassifyStockThresholds(t *testing.T) {
	cases := []struct {
		weeks  int
		status catalog.StockStatus
	}{
		{0, catalog.StockCritical},
		{1, catalog.StockCritical},
		{2, catalog.StockLow},
		{3, catalog.StockWatch},
		{4, catalog.StockWatch},
		{5, catalog.StockHealthy},
		{InfiniteWeeks, catalog.StockHealthy},
	}

	for _, tc := range cases {
		require.Equal(t, tc.status, ClassifyStock(tc.weeks), "weeks=%d", tc.weeks)
	}
}
