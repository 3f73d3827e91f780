package sqlstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// WhereBuilder accumulates AND-ed conditions and their positional args.
type WhereBuilder struct {
	d          Dialect
	conditions []string
	args       []interface{}
	argIndex   int
}

// NewWhereBuilder returns a builder using Postgres placeholders.
func NewWhereBuilder() *WhereBuilder {
	return newWhereBuilder(Postgres)
}

func newWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{d: d, argIndex: 1}
}

func (wb *WhereBuilder) arg(v interface{}) string {
	p := wb.d.placeholder(wb.argIndex)
	wb.args = append(wb.args, v)
	wb.argIndex++
	return p
}

// Add appends "column = $n". Empty string values are skipped.
func (wb *WhereBuilder) Add(column string, value interface{}) {
	if s, ok := value.(string); ok && s == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", column, wb.arg(value)))
}

// AddSearch appends a case-insensitive substring match across fields, sharing one arg.
func (wb *WhereBuilder) AddSearch(query string, fields []string) error {
	if query == "" || len(fields) == 0 {
		return nil
	}
	exprs := make([]string, 0, len(fields))
	for _, f := range fields {
		e, err := wb.d.textExpr(f)
		if err != nil {
			return err
		}
		exprs = append(exprs, e)
	}
	p := wb.arg("%" + query + "%")
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = fmt.Sprintf("%s %s %s", e, wb.d.ilike, p)
	}
	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
	return nil
}

// AddMatch appends an equality per entry, in key order.
func (wb *WhereBuilder) AddMatch(match map[string]string) error {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e, err := wb.d.textExpr(k)
		if err != nil {
			return err
		}
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", e, wb.arg(match[k])))
	}
	return nil
}

// AddFilters appends one condition per filter.
func (wb *WhereBuilder) AddFilters(filters []store.Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
		cond, err := wb.filter(f)
		if err != nil {
			return errors.Wrapf(err, "filter %s", f)
		}
		if cond != "" {
			wb.conditions = append(wb.conditions, cond)
		}
	}
	return nil
}

func (wb *WhereBuilder) filter(f store.Filter) (string, error) {
	col, err := wb.d.textExpr(f.Field)
	if err != nil {
		return "", err
	}

	switch f.Op {
	case store.OpEquals:
		return fmt.Sprintf("%s = %s", col, wb.arg(f.Value)), nil
	case store.OpNotEquals:
		return fmt.Sprintf("(%s IS NULL OR %s <> %s)", col, col, wb.arg(f.Value)), nil
	case store.OpContains:
		return fmt.Sprintf("%s %s %s", col, wb.d.ilike, wb.arg("%"+f.Value+"%")), nil
	case store.OpStartsWith:
		return fmt.Sprintf("%s %s %s", col, wb.d.ilike, wb.arg(f.Value+"%")), nil
	case store.OpEndsWith:
		return fmt.Sprintf("%s %s %s", col, wb.d.ilike, wb.arg("%"+f.Value)), nil
	case store.OpGreaterEq, store.OpLessEq, store.OpGreater, store.OpLess:
		sym := map[store.Op]string{store.OpGreaterEq: ">=", store.OpLessEq: "<=", store.OpGreater: ">", store.OpLess: "<"}[f.Op]
		if n, err := strconv.ParseFloat(f.Value, 64); err == nil && !store.IsSystemField(f.Field) {
			num, err := wb.d.numberExpr(f.Field)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s %s", num, sym, wb.arg(n)), nil
		}
		return fmt.Sprintf("%s %s %s", col, sym, wb.arg(f.Value)), nil
	case store.OpIn:
		values := strings.Split(f.Value, ",")
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = wb.arg(strings.TrimSpace(v))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), nil
	}
	return "", nil
}

// Build returns " WHERE a AND b" and its args, or "" and nil when empty.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex is the index the next placeholder will use.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}
