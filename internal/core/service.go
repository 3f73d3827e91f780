package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// EntityService is everything the importer and exporters need from one
// entity. SchemaService implements it from a ColumnSchema alone; entities
// with special rules can wrap or replace it.
type EntityService interface {
	Schema() *ColumnSchema

	// CheckDuplicate returns the stored record conflicting with row, or nil.
	CheckDuplicate(ctx context.Context, r store.Reader, row TypedRow) (*store.Record, error)

	// ValidateForeignKeys returns every missing reference of row.
	ValidateForeignKeys(ctx context.Context, r store.Reader, row TypedRow) (ForeignKeyErrors, error)

	// PrepareForInsert builds a new record, generating its code if needed.
	PrepareForInsert(ctx context.Context, r store.Reader, row TypedRow, actor string) (store.Record, error)

	// UpdateExisting merges row onto existing. The identity is kept.
	UpdateExisting(existing store.Record, row TypedRow, actor string) store.Record

	// ExportColumns is the export projection.
	ExportColumns() []ExportColumn
}

// SchemaService is the schema-driven EntityService.
type SchemaService struct {
	schema *ColumnSchema
	codes  *CodeGenerator
	now    func() time.Time
	newID  func() string
}

// ServiceOption configures a SchemaService.
type ServiceOption func(*SchemaService)

// WithClock sets the time source for audit stamps and fallback codes.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *SchemaService) { s.now = now }
}

// WithIDGenerator sets how record ids are minted.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *SchemaService) { s.newID = fn }
}

// NewSchemaService wraps schema.
func NewSchemaService(schema *ColumnSchema, opts ...ServiceOption) *SchemaService {
	s := &SchemaService{
		schema: schema,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if spec, ok := schema.codeSpec(); ok {
		s.codes = NewCodeGenerator(schema.Entity, spec, s.now)
	}
	return s
}

func (s *SchemaService) Schema() *ColumnSchema { return s.schema }

func (s *SchemaService) CheckDuplicate(ctx context.Context, r store.Reader, row TypedRow) (*store.Record, error) {
	return FindDuplicate(ctx, r, s.schema, row)
}

func (s *SchemaService) ValidateForeignKeys(ctx context.Context, r store.Reader, row TypedRow) (ForeignKeyErrors, error) {
	return CheckForeignKeys(ctx, r, s.schema, row)
}

func (s *SchemaService) PrepareForInsert(ctx context.Context, r store.Reader, row TypedRow, actor string) (store.Record, error) {
	now := s.now().UTC()
	rec := store.Record{
		ID:        s.newID(),
		Entity:    s.schema.Entity,
		Fields:    row.Fields(),
		Active:    true,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedBy: actor,
		UpdatedAt: now,
	}
	if s.codes != nil {
		rec.Code, _ = s.codes.Next(ctx, r, row)
	}
	return rec, nil
}

// UpdateExisting copies every non-null field of row onto a clone of
// existing and stamps the update. Null cells never erase stored values.
func (s *SchemaService) UpdateExisting(existing store.Record, row TypedRow, actor string) store.Record {
	rec := existing.Clone()
	for k, v := range row {
		if !v.IsNull() {
			rec.Fields[k] = v.Any()
		}
	}
	rec.UpdatedBy = actor
	rec.UpdatedAt = s.now().UTC()
	return rec
}

func (s *SchemaService) ExportColumns() []ExportColumn {
	return DefaultProjection(s.schema)
}
