package sqlstore

import (
	"testing"

	"github.com/JonMunkholm/sheetport/internal/store"
)

func TestNewWhereBuilder(t *testing.T) {
	wb := NewWhereBuilder()

	if wb == nil {
		t.Fatal("NewWhereBuilder returned nil")
	}
	if wb.argIndex != 1 {
		t.Errorf("expected argIndex to be 1, got %d", wb.argIndex)
	}
	if len(wb.conditions) != 0 {
		t.Errorf("expected empty conditions, got %d", len(wb.conditions))
	}
	if len(wb.args) != 0 {
		t.Errorf("expected empty args, got %d", len(wb.args))
	}
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	whereClause, args := NewWhereBuilder().Build()

	if whereClause != "" {
		t.Errorf("expected empty string for no conditions, got %q", whereClause)
	}
	if args != nil {
		t.Errorf("expected nil args for no conditions, got %v", args)
	}
}

func TestWhereBuilder_Add(t *testing.T) {
	wb := NewWhereBuilder()
	wb.Add("entity", "zones")
	wb.Add("code", "")
	wb.Add("id", "abc")

	whereClause, args := wb.Build()

	if want := " WHERE entity = $1 AND id = $2"; whereClause != want {
		t.Errorf("expected %q, got %q", want, whereClause)
	}
	if len(args) != 2 || args[0] != "zones" || args[1] != "abc" {
		t.Errorf("unexpected args %v", args)
	}
	if wb.NextArgIndex() != 3 {
		t.Errorf("NextArgIndex() = %d, want 3", wb.NextArgIndex())
	}
}

func TestWhereBuilder_AddSearch(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		fields     []string
		wantClause string
		wantArgs   int
	}{
		{"empty query skipped", "", []string{"name"}, "", 0},
		{"no fields skipped", "x", nil, "", 0},
		{"single field", "north", []string{"name"}, ` WHERE ((data->>'name') ILIKE $1)`, 1},
		{"system and business fields share one arg", "zn", []string{"code", "name"}, ` WHERE (code ILIKE $1 OR (data->>'name') ILIKE $1)`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder()
			if err := wb.AddSearch(tt.query, tt.fields); err != nil {
				t.Fatalf("AddSearch() error = %v", err)
			}
			gotClause, gotArgs := wb.Build()

			if gotClause != tt.wantClause {
				t.Errorf("clause = %q, want %q", gotClause, tt.wantClause)
			}
			if len(gotArgs) != tt.wantArgs {
				t.Fatalf("args count = %d, want %d", len(gotArgs), tt.wantArgs)
			}
			if tt.wantArgs > 0 && gotArgs[0] != "%"+tt.query+"%" {
				t.Errorf("search arg = %q, want %q", gotArgs[0], "%"+tt.query+"%")
			}
		})
	}
}

func TestWhereBuilder_AddFilters(t *testing.T) {
	tests := []struct {
		name       string
		filters    []store.Filter
		wantClause string
		wantArgs   []interface{}
	}{
		{
			name:       "active flag",
			filters:    []store.Filter{{Field: "is_active", Op: store.OpEquals, Value: "Y"}},
			wantClause: ` WHERE is_active = $1`,
			wantArgs:   []interface{}{"Y"},
		},
		{
			name:       "contains",
			filters:    []store.Filter{{Field: "name", Op: store.OpContains, Value: "john"}},
			wantClause: ` WHERE (data->>'name') ILIKE $1`,
			wantArgs:   []interface{}{"%john%"},
		},
		{
			name:       "starts and ends",
			filters:    []store.Filter{{Field: "email", Op: store.OpStartsWith, Value: "admin"}, {Field: "email", Op: store.OpEndsWith, Value: ".com"}},
			wantClause: ` WHERE (data->>'email') ILIKE $1 AND (data->>'email') ILIKE $2`,
			wantArgs:   []interface{}{"admin%", "%.com"},
		},
		{
			name:       "numeric comparison",
			filters:    []store.Filter{{Field: "capacity", Op: store.OpGreaterEq, Value: "10"}},
			wantClause: ` WHERE (CASE WHEN jsonb_typeof(data->'capacity') = 'number' THEN (data->>'capacity')::numeric END) >= $1`,
			wantArgs:   []interface{}{float64(10)},
		},
		{
			name:       "date comparison stays textual",
			filters:    []store.Filter{{Field: "opened_on", Op: store.OpLess, Value: "2024-01-01"}},
			wantClause: ` WHERE (data->>'opened_on') < $1`,
			wantArgs:   []interface{}{"2024-01-01"},
		},
		{
			name:       "in list",
			filters:    []store.Filter{{Field: "state", Op: store.OpIn, Value: "CA, NY"}},
			wantClause: ` WHERE (data->>'state') IN ($1, $2)`,
			wantArgs:   []interface{}{"CA", "NY"},
		},
		{
			name:       "not equals includes missing",
			filters:    []store.Filter{{Field: "code", Op: store.OpNotEquals, Value: "ZN001"}},
			wantClause: ` WHERE (code IS NULL OR code <> $1)`,
			wantArgs:   []interface{}{"ZN001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder()
			if err := wb.AddFilters(tt.filters); err != nil {
				t.Fatalf("AddFilters() error = %v", err)
			}
			gotClause, gotArgs := wb.Build()

			if gotClause != tt.wantClause {
				t.Errorf("clause = %q, want %q", gotClause, tt.wantClause)
			}
			if len(gotArgs) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
			for i := range gotArgs {
				if gotArgs[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %v, want %v", i, gotArgs[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestWhereBuilder_RejectsUnsafeField(t *testing.T) {
	wb := NewWhereBuilder()
	err := wb.AddFilters([]store.Filter{{Field: "name'; DROP TABLE x; --", Op: store.OpEquals, Value: "x"}})
	if err == nil {
		t.Fatal("expected error for unsafe field name")
	}
}

func TestWhereBuilder_SQLitePlaceholders(t *testing.T) {
	wb := newWhereBuilder(SQLite)
	wb.Add("entity", "zones")
	if err := wb.AddMatch(map[string]string{"sku": "A-1", "code": "X"}); err != nil {
		t.Fatal(err)
	}
	gotClause, gotArgs := wb.Build()

	want := ` WHERE entity = ?1 AND code = ?2 AND (CASE json_type(data, '$.sku') WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ELSE CAST(json_extract(data, '$.sku') AS TEXT) END) = ?3`
	if gotClause != want {
		t.Errorf("clause = %q, want %q", gotClause, want)
	}
	if len(gotArgs) != 3 || gotArgs[1] != "X" || gotArgs[2] != "A-1" {
		t.Errorf("unexpected args %v", gotArgs)
	}
}
