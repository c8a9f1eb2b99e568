package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanInventoryRowDefaults(t *testing.T) {
	row, err := cleanInventoryRow(map[string]string{
		fieldSKU: " SKU-1 ",
	})
	require.NoError(t, err)

	require.Equal(t, "SKU-1", row.SKU)
	require.Equal(t, "SKU-1", row.Name, "name falls back to the SKU")
	require.Equal(t, 1, row.PackSize)
	require.Zero(t, row.StockUnits)
}

func TestCleanInventoryRowDerivesUnitsFromPacks(t *testing.T) {
	row, err := cleanInventoryRow(map[string]string{
		fieldSKU:        "SKU-1",
		fieldName:       "Gloves",
		fieldPackSize:   "10",
		fieldStockPacks: "4",
	})
	require.NoError(t, err)

	require.Equal(t, 4, row.StockPacks)
	require.Equal(t, 40, row.StockUnits)
}

func TestCleanInventoryRowExtractsDigits(t *testing.T) {
	row, err := cleanInventoryRow(map[string]string{
		fieldSKU:               "SKU-1",
		fieldPackSize:          "Case of 12",
		fieldNotificationPoint: "Notify at 50",
		fieldUnitPrice:         "$1,299.50",
	})
	require.NoError(t, err)

	require.Equal(t, 12, row.PackSize)
	require.Equal(t, 50, row.NotificationPoint)
	require.InDelta(t, 1299.50, row.UnitPrice, 1e-9)
}

func TestCleanInventoryRowMissingSKU(t *testing.T) {
	_, err := cleanInventoryRow(map[string]string{fieldName: "No SKU"})
	require.Error(t, err)
}

func TestCleanOrderRow(t *testing.T) {
	row, err := cleanOrderRow(map[string]string{
		fieldSKU:           "SKU-9",
		fieldOrderID:       "ORD-77",
		fieldQuantityPacks: "3.0",
		fieldUnitPrice:     "$2.50",
		fieldTotalValue:    "$7.50",
		fieldDateSubmitted: "03/15/2024",
		fieldOrderStatus:   " Completed ",
	})
	require.NoError(t, err)

	require.Equal(t, 3, row.QuantityPacks)
	require.InDelta(t, 2.5, row.UnitPrice, 1e-9)
	require.InDelta(t, 7.5, row.TotalValue, 1e-9)
	require.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), row.DateSubmitted)
	require.Equal(t, "completed", row.OrderStatus)
}

func TestCleanOrderRowStatusDefault(t *testing.T) {
	row, err := cleanOrderRow(map[string]string{
		fieldSKU:           "SKU-9",
		fieldDateSubmitted: "2024-03-15",
	})
	require.NoError(t, err)
	require.Equal(t, "completed", row.OrderStatus)
}

func TestCleanOrderRowInvalidDate(t *testing.T) {
	_, err := cleanOrderRow(map[string]string{
		fieldSKU:           "SKU-9",
		fieldDateSubmitted: "not a date",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid date")

	_, err = cleanOrderRow(map[string]string{fieldSKU: "SKU-9"})
	require.Error(t, err)
}

func TestParseDateLayouts(t *testing.T) {
	for _, raw := range []string{
		"2024-03-15",
		"03/15/2024",
		"3/15/2024",
		"2024/03/15",
		"15-Mar-2024",
		"Mar 15, 2024",
	} {
		parsed, ok := parseDate(raw)
		require.True(t, ok, "layout %q", raw)
		require.Equal(t, 2024, parsed.Year(), "layout %q", raw)
		require.Equal(t, time.March, parsed.Month(), "layout %q", raw)
	}
}
