package core

// pipeline.go validates and transforms one RawRow against a ColumnSchema.
//
// Columns are checked in declaration order and every column is checked, so
// one pass reports all problems of a row. For each column:
//  1. absent and required: "<Header> is required"
//  2. absent and optional: Default (converted like a cell) or Null
//  3. present: type conversion, then each rule in order; the first failure
//     is the column's only error
//  4. success: Transform
//
// A row with any error produces no TypedRow.

import (
	"github.com/cockroachdb/errors"
)

// ValidationError is a single field-level problem.
type ValidationError struct {
	Column  string // column key
	Header  string
	Value   string // the raw cell
	Message string // complete, header included
}

func (e ValidationError) Error() string { return e.Message }

// ValidationResult contains the result of validating a row.
type ValidationResult struct {
	Row    TypedRow
	Errors []ValidationError
}

// Valid is true when no column failed.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// RowErrors converts the field errors for reporting.
func (r ValidationResult) RowErrors(line int) []RowError {
	out := make([]RowError, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = RowError{
			Row:     line,
			Type:    KindFieldValidation,
			Column:  e.Header,
			Message: e.Message,
			Action:  MapError(e).Action,
		}
	}
	return out
}

// RowValidator applies one schema to rows.
type RowValidator struct {
	schema *ColumnSchema
}

// NewRowValidator creates a validator for schema.
func NewRowValidator(schema *ColumnSchema) *RowValidator {
	return &RowValidator{schema: schema}
}

// ValidateRow runs the pipeline over raw.
func (v *RowValidator) ValidateRow(raw RawRow) ValidationResult {
	res := ValidationResult{Row: make(TypedRow, len(v.schema.Columns))}

	for _, col := range v.schema.Columns {
		cell, present := raw.Values[col.Key]
		if present && cell == "" {
			present = false
		}

		if !present {
			if col.Required {
				res.Errors = append(res.Errors, ValidationError{
					Column:  col.Key,
					Header:  col.Header,
					Message: col.Header + " is required",
				})
				continue
			}
			val := NullValue()
			if col.Default != nil {
				// Defaults are checked by ColumnSchema.Validate.
				val, _ = Convert(col.Type, *col.Default)
				val = applyTransform(col, val)
			}
			res.Row[col.Key] = val
			continue
		}

		val, err := v.ValidateCell(col, cell)
		if err != nil {
			res.Errors = append(res.Errors, ValidationError{
				Column:  col.Key,
				Header:  col.Header,
				Value:   cell,
				Message: fieldMessage(col, err),
			})
			continue
		}
		res.Row[col.Key] = applyTransform(col, val)
	}

	if len(res.Errors) > 0 {
		res.Row = nil
	}
	return res
}

// ValidateCell converts cell and runs the column's rules. The transform is
// not applied.
func (v *RowValidator) ValidateCell(col ColumnDefinition, cell string) (Value, error) {
	val, err := Convert(col.Type, cell)
	if err != nil {
		return NullValue(), errors.Mark(err, ErrFieldValidation)
	}
	if val.IsNull() && col.Required {
		return NullValue(), errors.Mark(errors.New("is required"), ErrFieldValidation)
	}
	for _, rule := range col.Rules {
		if err := rule.Check(val); err != nil {
			return NullValue(), errors.Mark(err, ErrFieldValidation)
		}
	}
	return val, nil
}

func applyTransform(col ColumnDefinition, v Value) Value {
	if col.Transform == nil || v.IsNull() {
		return v
	}
	return col.Transform(v)
}

// fieldMessage prefixes a rule phrase with the column header, unless the
// rule supplied a complete message.
func fieldMessage(col ColumnDefinition, err error) string {
	var full *ruleMessage
	if errors.As(err, &full) {
		return full.msg
	}
	return col.Header + " " + err.Error()
}
