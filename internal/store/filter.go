package store

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Op is a comparison operator for filters.
type Op string

const (
	OpEquals     Op = "eq"
	OpNotEquals  Op = "neq"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts"
	OpEndsWith   Op = "ends"
	OpGreaterEq  Op = "gte"
	OpLessEq     Op = "lte"
	OpGreater    Op = "gt"
	OpLess       Op = "lt"
	OpIn         Op = "in"
)

var validOps = map[Op]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpGreaterEq: true, OpLessEq: true, OpGreater: true, OpLess: true, OpIn: true,
}

// Filter is a single condition. Filters in a Query combine with AND.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"` // comma-separated for OpIn
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Op, f.Value)
}

var fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidFieldName reports whether name is safe to embed in a SQL JSON path.
func ValidFieldName(name string) bool {
	return fieldNameRe.MatchString(name)
}

// ParseFilter parses "op:value" (or a bare value, meaning eq) for field.
func ParseFilter(field, expr string) (Filter, error) {
	if !ValidFieldName(field) {
		return Filter{}, errors.Wrapf(ErrInvalidField, "%q", field)
	}
	op, value, found := strings.Cut(expr, ":")
	if !found || !validOps[Op(op)] {
		return Filter{Field: field, Op: OpEquals, Value: expr}, nil
	}
	return Filter{Field: field, Op: Op(op), Value: value}, nil
}

// Validate checks the field name and operator.
func (f Filter) Validate() error {
	if !ValidFieldName(f.Field) {
		return errors.Wrapf(ErrInvalidField, "%q", f.Field)
	}
	if !validOps[f.Op] {
		return errors.Newf("unsupported filter operator %q", f.Op)
	}
	return nil
}

// Matches evaluates the filter against a value in memory, with the same
// semantics the SQL store compiles to: contains/starts/ends ignore case,
// ordering compares numerically when the filter value is a number.
func (f Filter) Matches(v any) bool {
	text := FormatValue(v)
	switch f.Op {
	case OpEquals:
		return v != nil && text == f.Value
	case OpNotEquals:
		return v == nil || text != f.Value
	case OpContains:
		return v != nil && strings.Contains(strings.ToLower(text), strings.ToLower(f.Value))
	case OpStartsWith:
		return v != nil && strings.HasPrefix(strings.ToLower(text), strings.ToLower(f.Value))
	case OpEndsWith:
		return v != nil && strings.HasSuffix(strings.ToLower(text), strings.ToLower(f.Value))
	case OpIn:
		if v == nil {
			return false
		}
		for _, candidate := range strings.Split(f.Value, ",") {
			if text == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		if v == nil {
			return false
		}
		c, ok := compareForFilter(text, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGreater:
			return c > 0
		case OpGreaterEq:
			return c >= 0
		case OpLess:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

// compareForFilter compares numerically when the filter value is numeric,
// otherwise lexically. A numeric filter against non-numeric text never matches.
func compareForFilter(text, want string) (int, bool) {
	if wn, err := strconv.ParseFloat(want, 64); err == nil {
		tn, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case tn < wn:
			return -1, true
		case tn > wn:
			return 1, true
		}
		return 0, true
	}
	return strings.Compare(text, want), true
}

// FormatValue renders a stored scalar as text: the canonical form used for
// equality matching, CSV-style exports and filter evaluation.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(TimeLayout)
	default:
		return fmt.Sprint(x)
	}
}

// TimeLayout is the fixed-width layout used for audit timestamps stored as
// text, so lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// MatchAll reports whether rec satisfies every filter and the search term.
func MatchAll(rec Record, q Query) bool {
	for _, f := range q.Filters {
		v, _ := rec.Value(f.Field)
		if !f.Matches(v) {
			return false
		}
	}
	if q.Search == "" || len(q.SearchFields) == 0 {
		return true
	}
	needle := strings.ToLower(q.Search)
	for _, field := range q.SearchFields {
		if strings.Contains(strings.ToLower(rec.Text(field)), needle) {
			return true
		}
	}
	return false
}

// SortRecords orders recs in place per q. Records missing the sort field go last.
func SortRecords(recs []Record, q Query) {
	if q.SortField == "" {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, aok := recs[i].Value(q.SortField)
		b, bok := recs[j].Value(q.SortField)
		if !aok || !bok {
			return aok && !bok
		}
		c := compareSort(FormatValue(a), FormatValue(b), q.SortNumeric)
		if q.SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareSort(a, b string, numeric bool) int {
	if numeric {
		an, aerr := strconv.ParseFloat(a, 64)
		bn, berr := strconv.ParseFloat(b, 64)
		if aerr == nil && berr == nil {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Page applies Offset and Limit to an already filtered and sorted slice.
func Page(recs []Record, q Query) []Record {
	if q.Offset > 0 {
		if q.Offset >= len(recs) {
			return nil
		}
		recs = recs[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(recs) {
		recs = recs[:q.Limit]
	}
	return recs
}
