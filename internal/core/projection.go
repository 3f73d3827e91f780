package core

import (
	"time"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// ExportColumn is one column of an export: a header and how to read the
// value from a record.
type ExportColumn struct {
	Header string
	Field  string     // record field or system column
	Type   ColumnType // drives cell formatting

	// Ref, when set, renders the name of the referenced record instead of
	// the raw id in Field.
	Ref *ForeignKey
}

// RelationNames maps entity -> id -> display name, prefetched per export.
type RelationNames map[string]map[string]string

// Value extracts the cell for rec. Missing values are nil.
func (c ExportColumn) Value(rec store.Record, names RelationNames) any {
	v, ok := rec.Value(c.Field)
	if !ok {
		return nil
	}
	if c.Ref != nil {
		id := store.FormatValue(v)
		if name, ok := names[c.Ref.Entity][id]; ok {
			return name
		}
		return nil
	}
	switch c.Field {
	case store.FieldCreatedAt, store.FieldUpdatedAt:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}

// DefaultProjection exports the code, every business column, the name of
// every referenced record, and the audit columns.
func DefaultProjection(schema *ColumnSchema) []ExportColumn {
	var cols []ExportColumn
	if schema.Code != nil {
		cols = append(cols, ExportColumn{Header: "Code", Field: store.FieldCode, Type: TypeString})
	}
	for _, c := range schema.Columns {
		cols = append(cols, ExportColumn{Header: c.Header, Field: c.Key, Type: c.Type})
		if fk, ok := schema.ForeignKeyFor(c.Key); ok {
			fk := fk
			cols = append(cols, ExportColumn{Header: fk.Label + " Name", Field: c.Key, Type: TypeString, Ref: &fk})
		}
	}
	return append(cols,
		ExportColumn{Header: "Active", Field: store.FieldActive, Type: TypeString},
		ExportColumn{Header: "Created By", Field: store.FieldCreatedBy, Type: TypeString},
		ExportColumn{Header: "Created At", Field: store.FieldCreatedAt, Type: TypeDate},
		ExportColumn{Header: "Updated By", Field: store.FieldUpdatedBy, Type: TypeString},
		ExportColumn{Header: "Updated At", Field: store.FieldUpdatedAt, Type: TypeDate},
	)
}

// ReferencedEntities lists the entities whose names an export needs.
func ReferencedEntities(cols []ExportColumn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cols {
		if c.Ref != nil && !seen[c.Ref.Entity] {
			seen[c.Ref.Entity] = true
			out = append(out, c.Ref.Entity)
		}
	}
	return out
}
