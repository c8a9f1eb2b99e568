package importer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Canonical field names the cleaning steps recognize. Mapping sidecars use
// these in their mapsTo values; they predate this service and are shared
// with the upload UI, so they stay camelCase on the wire.
const (
	fieldSKU               = "productId"
	fieldName              = "name"
	fieldItemType          = "itemType"
	fieldPackSize          = "packSize"
	fieldStockPacks        = "currentStockPacks"
	fieldStockUnits        = "currentStockUnits"
	fieldNotificationPoint = "notificationPoint"
	fieldUnitPrice         = "unitPrice"
	fieldOrderID           = "orderId"
	fieldQuantityPacks     = "quantityPacks"
	fieldQuantityUnits     = "quantityUnits"
	fieldDateSubmitted     = "dateSubmitted"
	fieldOrderStatus       = "orderStatus"
	fieldShipToLocation    = "shipToLocation"
	fieldShipToCompany     = "shipToCompany"
	fieldTotalValue        = "totalValue"
)

// ColumnMapping is one source-column rule from the mapping sidecar.
type ColumnMapping struct {
	Source           string `json:"source"`
	MapsTo           string `json:"mapsTo"`
	IsCustomField    bool   `json:"isCustomField,omitempty"`
	DetectedDataType string `json:"detectedDataType,omitempty"`
}

// MappingFile is the JSON sidecar uploaded alongside an import file.
type MappingFile struct {
	ColumnMappings []ColumnMapping `json:"columnMappings"`
}

func ParseMapping(data []byte) (*MappingFile, error) {
	var m MappingFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse column mapping: %w", err)
	}
	return &m, nil
}

// fallbackMapping is the legacy fixed layout used when no sidecar is given,
// kept for files exported straight from the supplier portals.
func fallbackMapping(importType ImportType) map[string]string {
	if importType == TypeOrders {
		return map[string]string{
			"Product ID":       fieldSKU,
			"Order ID":         fieldOrderID,
			"Quantity":         fieldQuantityPacks,
			"Total Quantity":   fieldQuantityUnits,
			"Date Submitted":   fieldDateSubmitted,
			"Order Status":     fieldOrderStatus,
			"Ship To Location": fieldShipToLocation,
			"Ship To Company":  fieldShipToCompany,
			"Unit Price":       fieldUnitPrice,
			"Extended Price":   fieldTotalValue,
		}
	}
	return map[string]string{
		"Product ID":                 fieldSKU,
		"Product Name":               fieldName,
		"Item Type":                  fieldItemType,
		"Quantity Multiplier":        fieldPackSize,
		"Available Quantity":         fieldStockPacks,
		"Current Notification Point": fieldNotificationPoint,
		"New Notification Point":     fieldNotificationPoint,
		"Unit Price":                 fieldUnitPrice,
	}
}

// rowMapper projects one source record onto canonical fields and custom
// values, using the sidecar rules or the legacy fixed layout.
type rowMapper struct {
	headers []string
	rename  map[string]string
	custom  map[string]ColumnMapping
}

func newRowMapper(headers []string, mapping *MappingFile, importType ImportType) *rowMapper {
	m := &rowMapper{
		headers: headers,
		rename:  make(map[string]string),
		custom:  make(map[string]ColumnMapping),
	}

	if mapping != nil && len(mapping.ColumnMappings) > 0 {
		for _, cm := range mapping.ColumnMappings {
			if cm.Source == "" || cm.MapsTo == "" {
				continue
			}
			if cm.IsCustomField {
				m.custom[cm.Source] = cm
			} else {
				m.rename[cm.Source] = cm.MapsTo
			}
		}
	} else {
		m.rename = fallbackMapping(importType)
	}

	return m
}

// mappedHeaders lists the canonical fields this file will populate, in
// source-column order.
func (m *rowMapper) mappedHeaders() []string {
	out := make([]string, 0, len(m.headers))
	for _, h := range m.headers {
		if field, ok := m.rename[strings.TrimSpace(h)]; ok {
			out = append(out, field)
		}
	}
	return out
}

// customHeaders lists the custom-field names this file will populate.
func (m *rowMapper) customHeaders() []string {
	out := make([]string, 0, len(m.custom))
	for _, h := range m.headers {
		if rule, ok := m.custom[strings.TrimSpace(h)]; ok {
			out = append(out, rule.MapsTo)
		}
	}
	return out
}

// apply maps one record to its canonical fields plus custom-field values.
// Cells are whitespace-trimmed; short records simply leave fields unset.
func (m *rowMapper) apply(record []string, now time.Time) (map[string]string, datatypes.JSONMap) {
	fields := make(map[string]string, len(m.rename))
	var custom datatypes.JSONMap

	for i, h := range m.headers {
		if i >= len(record) {
			break
		}
		cell := strings.TrimSpace(record[i])
		header := strings.TrimSpace(h)

		if field, ok := m.rename[header]; ok {
			if cell != "" || fields[field] == "" {
				fields[field] = cell
			}
			continue
		}
		if rule, ok := m.custom[header]; ok && cell != "" {
			if custom == nil {
				custom = datatypes.JSONMap{}
			}
			dataType := rule.DetectedDataType
			if dataType == "" {
				dataType = "text"
			}
			custom[rule.MapsTo] = map[string]any{
				"value":          cell,
				"originalHeader": header,
				"dataType":       dataType,
				"lastUpdated":    now.UTC().Format(time.RFC3339),
			}
		}
	}

	return fields, custom
}
