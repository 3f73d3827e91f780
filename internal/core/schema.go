package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// ColumnType is the semantic type a cell is converted to.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeNumber ColumnType = "number"
	TypeDate   ColumnType = "date"
	TypeEmail  ColumnType = "email"
	TypeBool   ColumnType = "bool"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeEmail, TypeBool:
		return true
	}
	return false
}

// ColumnDefinition declares one importable/exportable field.
type ColumnDefinition struct {
	Key         string
	Header      string
	Required    bool
	Type        ColumnType
	Rules       []Rule
	Transform   Transform // applied after type conversion and rules; nil is identity
	Default     *string   // raw text used when the cell is absent and the column optional
	Description string    // shown on the template's instructions sheet
}

// ForeignKey declares that Field holds the id of a record of Entity.
type ForeignKey struct {
	Field  string
	Entity string
	Label  string // used in "<Label> with ID <id> does not exist"
}

// CodeSpec configures business code generation.
//
// With Prefix set, every code is Prefix + number. Otherwise the prefix is
// the first PrefixLength letters of SourceField.
type CodeSpec struct {
	SourceField  string
	Prefix       string
	PrefixLength int
	Width        int
}

// Defaults for CodeSpec.
const (
	DefaultCodePrefixLength = 3
	DefaultCodeWidth        = 3
)

// ColumnSchema is the static declaration of one entity. It is pure data and
// must not change after Validate succeeds.
type ColumnSchema struct {
	Entity       string
	DisplayName  string
	Columns      []ColumnDefinition
	UniqueFields []string
	ForeignKeys  []ForeignKey
	Code         *CodeSpec

	// NameField is shown in place of this entity's id when another entity
	// references it in exports.
	NameField     string
	SummaryFields []string
	SearchFields  []string

	// SampleRows are raw cells keyed by column key, written to templates.
	SampleRows []map[string]string
}

// Validate checks the schema's internal consistency.
func (s *ColumnSchema) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !store.ValidFieldName(s.Entity) {
		add("entity name %q is invalid", s.Entity)
	}
	if len(s.Columns) == 0 {
		add("no columns declared")
	}

	seen := make(map[string]bool, len(s.Columns))
	headers := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		switch {
		case !store.ValidFieldName(c.Key):
			add("column key %q is invalid", c.Key)
		case store.IsSystemField(c.Key):
			add("column key %q is reserved", c.Key)
		case seen[c.Key]:
			add("column key %q is declared twice", c.Key)
		}
		seen[c.Key] = true

		h := normalizeHeader(c.Header)
		if h == "" {
			add("column %q has no header", c.Key)
		} else if headers[h] {
			add("header %q is declared twice", c.Header)
		}
		headers[h] = true

		if !c.Type.Valid() {
			add("column %q has unknown type %q", c.Key, c.Type)
		}
		if c.Default != nil {
			if _, err := Convert(c.Type, *c.Default); err != nil {
				add("column %q default %q: %v", c.Key, *c.Default, err)
			}
		}
	}

	for _, f := range s.UniqueFields {
		if !seen[f] {
			add("unique field %q is not a column", f)
		}
	}
	for _, fk := range s.ForeignKeys {
		if !seen[fk.Field] {
			add("foreign key field %q is not a column", fk.Field)
		}
		if fk.Entity == "" {
			add("foreign key %q has no target entity", fk.Field)
		}
	}
	if s.Code != nil {
		if s.Code.Prefix == "" && !seen[s.Code.SourceField] {
			add("code source field %q is not a column", s.Code.SourceField)
		}
	}
	if s.NameField != "" && !seen[s.NameField] && !store.IsSystemField(s.NameField) {
		add("name field %q is not a column", s.NameField)
	}
	for _, f := range append(append([]string{}, s.SummaryFields...), s.SearchFields...) {
		if !seen[f] && !store.IsSystemField(f) {
			add("field %q is not a column", f)
		}
	}

	if len(problems) > 0 {
		return errors.Newf("schema %s: %s", s.Entity, strings.Join(problems, "; "))
	}
	return nil
}

// Column looks up a column by key.
func (s *ColumnSchema) Column(key string) (ColumnDefinition, bool) {
	for _, c := range s.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// Headers returns the display headers in declaration order.
func (s *ColumnSchema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
	}
	return out
}

// RequiredHeaders returns the headers of required columns.
func (s *ColumnSchema) RequiredHeaders() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Header)
		}
	}
	return out
}

// ForeignKeyFor returns the foreign key declared on field.
func (s *ColumnSchema) ForeignKeyFor(field string) (ForeignKey, bool) {
	for _, fk := range s.ForeignKeys {
		if fk.Field == field {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// codeSpec returns the code spec with defaults applied.
func (s *ColumnSchema) codeSpec() (CodeSpec, bool) {
	if s.Code == nil {
		return CodeSpec{}, false
	}
	spec := *s.Code
	if spec.PrefixLength <= 0 {
		spec.PrefixLength = DefaultCodePrefixLength
	}
	if spec.Width <= 0 {
		spec.Width = DefaultCodeWidth
	}
	return spec, true
}
