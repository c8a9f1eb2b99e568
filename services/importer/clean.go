package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	digitRe = regexp.MustCompile(`\d+`)
	priceRe = regexp.MustCompile(`[$,]`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"2006/01/02",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// inventoryRow is one cleaned inventory record ready for persistence.
type inventoryRow struct {
	SKU               string
	Name              string
	ItemType          string
	PackSize          int
	StockPacks        int
	StockUnits        int
	NotificationPoint int
	UnitPrice         float64
}

// orderRow is one cleaned order record. QuantityUnits may still be zero
// here; the caller derives it from the product's pack size when so.
type orderRow struct {
	SKU            string
	OrderID        string
	QuantityPacks  int
	QuantityUnits  int
	UnitPrice      float64
	TotalValue     float64
	DateSubmitted  time.Time
	OrderStatus    string
	ShipToLocation string
	ShipToCompany  string
}

func cleanInventoryRow(fields map[string]string) (*inventoryRow, error) {
	sku := strings.TrimSpace(fields[fieldSKU])
	if sku == "" {
		return nil, fmt.Errorf("missing product id")
	}

	row := &inventoryRow{
		SKU:               sku,
		Name:              strings.TrimSpace(fields[fieldName]),
		ItemType:          strings.TrimSpace(fields[fieldItemType]),
		PackSize:          extractInt(fields[fieldPackSize]),
		StockPacks:        parseIntField(fields[fieldStockPacks]),
		NotificationPoint: extractInt(fields[fieldNotificationPoint]),
		UnitPrice:         parsePrice(fields[fieldUnitPrice]),
	}
	if row.Name == "" {
		row.Name = sku
	}
	if row.PackSize <= 0 {
		row.PackSize = 1
	}
	row.StockUnits = parseIntField(fields[fieldStockUnits])
	if row.StockUnits == 0 && row.StockPacks > 0 {
		row.StockUnits = row.StockPacks * row.PackSize
	}

	return row, nil
}

func cleanOrderRow(fields map[string]string) (*orderRow, error) {
	sku := strings.TrimSpace(fields[fieldSKU])
	if sku == "" {
		return nil, fmt.Errorf("missing product id")
	}

	rawDate := strings.TrimSpace(fields[fieldDateSubmitted])
	submitted, ok := parseDate(rawDate)
	if !ok {
		return nil, fmt.Errorf("invalid date %q", rawDate)
	}

	row := &orderRow{
		SKU:            sku,
		OrderID:        strings.TrimSpace(fields[fieldOrderID]),
		QuantityPacks:  parseIntField(fields[fieldQuantityPacks]),
		QuantityUnits:  parseIntField(fields[fieldQuantityUnits]),
		UnitPrice:      parsePrice(fields[fieldUnitPrice]),
		TotalValue:     parsePrice(fields[fieldTotalValue]),
		DateSubmitted:  submitted,
		OrderStatus:    strings.ToLower(strings.TrimSpace(fields[fieldOrderStatus])),
		ShipToLocation: strings.TrimSpace(fields[fieldShipToLocation]),
		ShipToCompany:  strings.TrimSpace(fields[fieldShipToCompany]),
	}
	if row.OrderStatus == "" {
		row.OrderStatus = "completed"
	}

	return row, nil
}

// extractInt pulls the first run of digits out of a cell, so values like
// "Notify at 50" or "50 units" coerce to 50.
func extractInt(s string) int {
	match := digitRe.FindString(s)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// parsePrice strips currency symbols and thousands separators first.
func parsePrice(s string) float64 {
	return parseFloatField(priceRe.ReplaceAllString(s, ""))
}

func parseFloatField(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseIntField tolerates decimal notation in count columns ("12.0").
func parseIntField(s string) int {
	return int(parseFloatField(s))
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
