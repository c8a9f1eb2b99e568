package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMappingRejectsGarbage(t *testing.T) {
	_, err := ParseMapping([]byte("{not json"))
	require.Error(t, err)

	m, err := ParseMapping([]byte(`{"columnMappings":[{"source":"Item #","mapsTo":"productId"}]}`))
	require.NoError(t, err)
	require.Len(t, m.ColumnMappings, 1)
}

func TestRowMapperAppliesSidecar(t *testing.T) {
	mapping := &MappingFile{ColumnMappings: []ColumnMapping{
		{Source: "Item #", MapsTo: fieldSKU},
		{Source: "Description", MapsTo: fieldName},
		{Source: "Warehouse", MapsTo: "warehouse", IsCustomField: true, DetectedDataType: "text"},
	}}
	mapper := newRowMapper([]string{"Item #", "Description", "Warehouse", "Ignored"}, mapping, TypeInventory)

	fields, custom := mapper.apply([]string{"SKU-1", "Gloves", "East", "junk"}, time.Now())

	require.Equal(t, "SKU-1", fields[fieldSKU])
	require.Equal(t, "Gloves", fields[fieldName])
	require.NotContains(t, fields, "Ignored")

	require.Contains(t, custom, "warehouse")
	entry, ok := custom["warehouse"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "East", entry["value"])
	require.Equal(t, "Warehouse", entry["originalHeader"])
	require.Equal(t, "text", entry["dataType"])
}

func TestRowMapperFallbackLayout(t *testing.T) {
	mapper := newRowMapper([]string{"Product ID", "Product Name", "Quantity Multiplier"}, nil, TypeInventory)

	fields, custom := mapper.apply([]string{"SKU-2", "Wipes", "24"}, time.Now())

	require.Equal(t, "SKU-2", fields[fieldSKU])
	require.Equal(t, "Wipes", fields[fieldName])
	require.Equal(t, "24", fields[fieldPackSize])
	require.Nil(t, custom)
}

func TestRowMapperShortRecord(t *testing.T) {
	mapper := newRowMapper([]string{"Product ID", "Product Name", "Unit Price"}, nil, TypeInventory)

	fields, _ := mapper.apply([]string{"SKU-3"}, time.Now())

	require.Equal(t, "SKU-3", fields[fieldSKU])
	require.Empty(t, fields[fieldName])
	require.Empty(t, fields[fieldUnitPrice])
}

func TestRowMapperHeaderSummaries(t *testing.T) {
	mapping := &MappingFile{ColumnMappings: []ColumnMapping{
		{Source: "Item #", MapsTo: fieldSKU},
		{Source: "Bin", MapsTo: "bin", IsCustomField: true},
	}}
	mapper := newRowMapper([]string{"Item #", "Bin", "Unmapped"}, mapping, TypeInventory)

	require.Equal(t, []string{fieldSKU}, mapper.mappedHeaders())
	require.Equal(t, []string{"bin"}, mapper.customHeaders())
}
