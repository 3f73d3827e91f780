package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetport/internal/store"
	"github.com/JonMunkholm/sheetport/internal/store/memstore"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func zoneSchema() *ColumnSchema {
	return &ColumnSchema{
		Entity:      "zones",
		DisplayName: "Zones",
		Columns: []ColumnDefinition{
			{Key: "name", Header: "Name", Required: true, Type: TypeString, Rules: []Rule{LengthRule{Min: 1, Max: 50}}},
			{Key: "latitude", Header: "Latitude", Type: TypeNumber, Rules: []Rule{RangeRule{Min: ptr(-90.0), Max: ptr(90.0)}}},
			{Key: "longitude", Header: "Longitude", Type: TypeNumber, Rules: []Rule{RangeRule{Min: ptr(-180.0), Max: ptr(180.0)}}},
		},
		UniqueFields: []string{"name"},
		Code:         &CodeSpec{Prefix: "ZN"},
		NameField:    "name",
	}
}

func warehouseSchema() *ColumnSchema {
	return &ColumnSchema{
		Entity:      "warehouses",
		DisplayName: "Warehouses",
		Columns: []ColumnDefinition{
			{Key: "name", Header: "Warehouse Name", Required: true, Type: TypeString},
			{Key: "zone_id", Header: "Zone ID", Required: true, Type: TypeString},
			{Key: "capacity", Header: "Capacity", Type: TypeNumber, Rules: []Rule{RangeRule{Min: ptr(0.0)}}},
			{Key: "state", Header: "State", Type: TypeString, Rules: []Rule{USStateRule}, Transform: mustTransform("us_state")},
			{Key: "cold_storage", Header: "Cold Storage", Type: TypeBool, Default: ptr("no")},
		},
		UniqueFields:  []string{"name"},
		ForeignKeys:   []ForeignKey{{Field: "zone_id", Entity: "zones", Label: "Zone"}},
		NameField:     "name",
		SummaryFields: []string{"state"},
	}
}

func productSchema() *ColumnSchema {
	return &ColumnSchema{
		Entity:      "products",
		DisplayName: "Products",
		Columns: []ColumnDefinition{
			{Key: "sku", Header: "SKU", Required: true, Type: TypeString, Transform: mustTransform("trim", "upper")},
			{Key: "name", Header: "Name", Required: true, Type: TypeString},
			{Key: "category", Header: "Category", Type: TypeString, Rules: []Rule{EnumRule{Values: []string{"Tools", "Parts"}}}},
			{Key: "price", Header: "Price", Type: TypeNumber, Rules: []Rule{RangeRule{Min: ptr(0.0)}}},
			{Key: "warehouse_id", Header: "Warehouse ID", Type: TypeString},
			{Key: "released_on", Header: "Released On", Type: TypeDate},
			{Key: "contact", Header: "Contact Email", Type: TypeEmail},
		},
		UniqueFields: []string{"sku"},
		ForeignKeys:  []ForeignKey{{Field: "warehouse_id", Entity: "warehouses", Label: "Warehouse"}},
		Code:         &CodeSpec{SourceField: "name"},
		NameField:    "name",
	}
}

func mustTransform(names ...string) Transform {
	t, err := TransformNamed(names...)
	if err != nil {
		panic(err)
	}
	return t
}

// csvFile joins lines with newlines.
func csvFile(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func newTestImporter(st store.Store, cfg ImporterConfig) *Importer {
	im := NewImporter(st, cfg, nil)
	im.now = fixedClock
	return im
}

func seedRecord(t *testing.T, st store.Store, rec store.Record) {
	t.Helper()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt, rec.UpdatedAt = fixedNow, fixedNow
	}
	rec.Active = true
	ctx := context.Background()
	require.NoError(t, st.Tx(ctx, func(w store.Writer) error { return w.Create(ctx, rec) }))
}

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	seedRecord(t, st, store.Record{ID: "z1", Entity: "zones", Code: "ZN001", Fields: map[string]any{"name": "North"}})
	seedRecord(t, st, store.Record{ID: "w1", Entity: "warehouses", Fields: map[string]any{"name": "Main", "zone_id": "z1"}})
	return st
}
