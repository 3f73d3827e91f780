package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// ForeignKeyError is one missing reference.
type ForeignKeyError struct {
	Field  string
	Entity string
	Label  string
	ID     string
}

func (e ForeignKeyError) Error() string {
	return fmt.Sprintf("%s with ID %s does not exist", e.Label, e.ID)
}

// Is lets errors.Is(err, ErrForeignKey) match.
func (e ForeignKeyError) Is(target error) bool { return target == ErrForeignKey }

// ForeignKeyErrors collects every missing reference of a row.
type ForeignKeyErrors []ForeignKeyError

// First returns the first missing reference, or nil.
func (fe ForeignKeyErrors) First() *ForeignKeyError {
	if len(fe) == 0 {
		return nil
	}
	return &fe[0]
}

func (fe ForeignKeyErrors) Error() string {
	msgs := make([]string, len(fe))
	for i, e := range fe {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// RowErrors converts the missing references for reporting.
func (fe ForeignKeyErrors) RowErrors(line int, schema *ColumnSchema) []RowError {
	out := make([]RowError, len(fe))
	for i, e := range fe {
		column := e.Field
		if c, ok := schema.Column(e.Field); ok {
			column = c.Header
		}
		out[i] = RowError{
			Row:     line,
			Type:    KindForeignKey,
			Column:  column,
			Message: e.Error(),
			Action:  MapError(e).Action,
		}
	}
	return out
}

// CheckForeignKeys verifies every non-null foreign key of row. It does not
// stop at the first missing reference. The error is reserved for store
// failures.
func CheckForeignKeys(ctx context.Context, r store.Reader, schema *ColumnSchema, row TypedRow) (ForeignKeyErrors, error) {
	var missing ForeignKeyErrors
	for _, fk := range schema.ForeignKeys {
		v := row[fk.Field]
		if v.IsNull() {
			continue
		}
		id := v.Text()
		ok, err := store.Exists(ctx, r, fk.Entity, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			label := fk.Label
			if label == "" {
				label = fk.Field
			}
			missing = append(missing, ForeignKeyError{Field: fk.Field, Entity: fk.Entity, Label: label, ID: id})
		}
	}
	return missing, nil
}
