package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		field, expr string
		want        Filter
	}{
		{"is_active", "Y", Filter{Field: "is_active", Op: OpEquals, Value: "Y"}},
		{"name", "contains:north", Filter{Field: "name", Op: OpContains, Value: "north"}},
		{"capacity", "gte:10", Filter{Field: "capacity", Op: OpGreaterEq, Value: "10"}},
		{"state", "in:CA,NY", Filter{Field: "state", Op: OpIn, Value: "CA,NY"}},
		{"url", "http://x", Filter{Field: "url", Op: OpEquals, Value: "http://x"}},
	}
	for _, tt := range tests {
		got, err := ParseFilter(tt.field, tt.expr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFilter("Robert'); DROP TABLE", "x")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		value  any
		want   bool
	}{
		{"eq string", Filter{Op: OpEquals, Value: "Y"}, "Y", true},
		{"eq is case sensitive", Filter{Op: OpEquals, Value: "y"}, "Y", false},
		{"eq number", Filter{Op: OpEquals, Value: "42"}, float64(42), true},
		{"eq nil", Filter{Op: OpEquals, Value: ""}, nil, false},
		{"neq nil", Filter{Op: OpNotEquals, Value: "x"}, nil, true},
		{"contains ignores case", Filter{Op: OpContains, Value: "ORT"}, "North", true},
		{"starts", Filter{Op: OpStartsWith, Value: "no"}, "North", true},
		{"ends", Filter{Op: OpEndsWith, Value: "TH"}, "North", true},
		{"in", Filter{Op: OpIn, Value: "CA, NY"}, "NY", true},
		{"in miss", Filter{Op: OpIn, Value: "CA,NY"}, "TX", false},
		{"gt numeric", Filter{Op: OpGreater, Value: "9"}, float64(10), true},
		{"gt numeric not lexical", Filter{Op: OpGreater, Value: "9"}, float64(100), true},
		{"lt numeric vs text", Filter{Op: OpLess, Value: "9"}, "abc", false},
		{"gte date text", Filter{Op: OpGreaterEq, Value: "2024-01-01"}, "2024-06-30", true},
		{"lte", Filter{Op: OpLessEq, Value: "5"}, float64(5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.value))
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "3", FormatValue(float64(3)))
	assert.Equal(t, "3.25", FormatValue(3.25))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "2025-03-04T05:06:07.000000Z",
		FormatValue(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)))
}

func TestRecordValue_SystemFields(t *testing.T) {
	r := Record{ID: "id-1", Code: "ZN001", Active: false, Fields: map[string]any{"name": "North", "note": nil}}

	v, ok := r.Value(FieldActive)
	assert.True(t, ok)
	assert.Equal(t, "N", v)

	assert.Equal(t, "ZN001", r.Text(FieldCode))
	assert.Equal(t, "North", r.Text("name"))

	_, ok = r.Value("note")
	assert.False(t, ok)
	_, ok = Record{}.Value(FieldCode)
	assert.False(t, ok)
}

func TestPage(t *testing.T) {
	recs := []Record{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, Page(recs, Query{Limit: 2}), 2)
	assert.Equal(t, "3", Page(recs, Query{Offset: 2})[0].ID)
	assert.Nil(t, Page(recs, Query{Offset: 5}))
}
