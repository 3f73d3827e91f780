// Package report renders entity data as spreadsheets and PDF documents:
// blank import templates, and filtered exports with a summary.
package report

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// ExportRequest selects and orders the records of an export.
type ExportRequest struct {
	Filters        []store.Filter
	Search         string
	SortField      string
	SortDesc       bool
	Limit          int
	IncludeSummary bool
}

// Describe renders the filters for report headers, e.g. "is_active eq Y".
func (r ExportRequest) Describe() string {
	parts := make([]string, 0, len(r.Filters)+1)
	for _, f := range r.Filters {
		parts = append(parts, f.String())
	}
	if r.Search != "" {
		parts = append(parts, "search "+r.Search)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "; ")
}

// Summary aggregates the exported records. Matching is the number of
// records the filters select; it exceeds Total when the limit cut the
// export short.
type Summary struct {
	Total      int
	Matching   int
	Active     int
	Inactive   int
	Breakdowns []Breakdown
}

// Breakdown counts the exported records per value of one field, most
// frequent first. Missing values are counted under "(blank)".
type Breakdown struct {
	Field  string
	Header string
	Counts []Count
}

type Count struct {
	Value string
	N     int
}

// Truncated reports whether the limit left matching records out.
func (s Summary) Truncated() bool { return s.Matching > s.Total }

const blankValue = "(blank)"

type summarizer struct {
	fields  []string
	headers []string
	total   int
	active  int
	counts  []map[string]int
}

func newSummarizer(schema *core.ColumnSchema) *summarizer {
	s := &summarizer{fields: schema.SummaryFields}
	for _, f := range s.fields {
		header := f
		if c, ok := schema.Column(f); ok {
			header = c.Header
		}
		s.headers = append(s.headers, header)
		s.counts = append(s.counts, map[string]int{})
	}
	return s
}

func (s *summarizer) add(rec store.Record) {
	s.total++
	if rec.Active {
		s.active++
	}
	for i, f := range s.fields {
		v := rec.Text(f)
		if v == "" {
			v = blankValue
		}
		s.counts[i][v]++
	}
}

func (s *summarizer) result() Summary {
	out := Summary{Total: s.total, Active: s.active, Inactive: s.total - s.active}
	for i, f := range s.fields {
		b := Breakdown{Field: f, Header: s.headers[i]}
		for v, n := range s.counts[i] {
			b.Counts = append(b.Counts, Count{Value: v, N: n})
		}
		sort.Slice(b.Counts, func(x, y int) bool {
			if b.Counts[x].N != b.Counts[y].N {
				return b.Counts[x].N > b.Counts[y].N
			}
			return b.Counts[x].Value < b.Counts[y].Value
		})
		out.Breakdowns = append(out.Breakdowns, b)
	}
	return out
}

// Exporter reads records for exports. Relation names are resolved through
// the registry's schemas.
type Exporter struct {
	store    store.Reader
	registry *core.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewExporter creates an exporter. A nil logger uses slog.Default().
func NewExporter(r store.Reader, reg *core.Registry, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: r, registry: reg, logger: logger, now: time.Now}
}

// query translates the request into a store query for schema.
func query(schema *core.ColumnSchema, req ExportRequest) (store.Query, error) {
	q := store.Query{
		Filters:      req.Filters,
		Search:       req.Search,
		SearchFields: schema.SearchFields,
		SortField:    req.SortField,
		SortDesc:     req.SortDesc,
		Limit:        req.Limit,
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return store.Query{}, err
		}
	}
	if q.SortField != "" {
		if !store.ValidFieldName(q.SortField) {
			return store.Query{}, errors.Wrapf(store.ErrInvalidField, "sort field %q", q.SortField)
		}
		if c, ok := schema.Column(q.SortField); ok && c.Type == core.TypeNumber {
			q.SortNumeric = true
		}
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	return q, nil
}

// relationNames loads id -> display name for every entity the projection
// references. It must finish before the export stream starts.
func (e *Exporter) relationNames(ctx context.Context, cols []core.ExportColumn) (core.RelationNames, error) {
	names := core.RelationNames{}
	for _, entity := range core.ReferencedEntities(cols) {
		nameField := store.FieldCode
		if svc, err := e.registry.Get(entity); err == nil && svc.Schema().NameField != "" {
			nameField = svc.Schema().NameField
		}
		byID := map[string]string{}
		err := e.store.Stream(ctx, entity, store.Query{}, func(rec store.Record) error {
			name := rec.Text(nameField)
			if name == "" {
				name = rec.ID
			}
			byID[rec.ID] = name
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "load %s names", entity)
		}
		names[entity] = byID
	}
	return names, nil
}

// each streams the selected records through fn and returns their summary.
func (e *Exporter) each(ctx context.Context, svc core.EntityService, cols []core.ExportColumn, req ExportRequest, fn func(rec store.Record, names core.RelationNames) error) (Summary, error) {
	schema := svc.Schema()
	q, err := query(schema, req)
	if err != nil {
		return Summary{}, err
	}
	names, err := e.relationNames(ctx, cols)
	if err != nil {
		return Summary{}, err
	}

	sum := newSummarizer(schema)
	err = e.store.Stream(ctx, schema.Entity, q, func(rec store.Record) error {
		sum.add(rec)
		return fn(rec, names)
	})
	if err != nil {
		return Summary{}, errors.Wrapf(err, "export %s", schema.Entity)
	}

	res := sum.result()
	res.Matching = res.Total
	if q.Limit > 0 && res.Total >= q.Limit {
		q.Limit = 0
		if res.Matching, err = e.store.Count(ctx, schema.Entity, q); err != nil {
			return Summary{}, errors.Wrapf(err, "count %s", schema.Entity)
		}
	}
	return res, nil
}

// cellValue converts a projected value for display. Business dates are
// stored as text and come back as time.Time.
func cellValue(col core.ExportColumn, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if col.Type == core.TypeDate && col.Ref == nil {
			if t, err := time.Parse(core.DateLayout, x); err == nil {
				return t
			}
		}
		return x
	case bool:
		if x {
			return "yes"
		}
		return "no"
	}
	return v
}

func isAuditTime(field string) bool {
	return field == store.FieldCreatedAt || field == store.FieldUpdatedAt
}
