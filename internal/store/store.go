// Package store defines the persistence contract the import engine depends on:
// key-based lookup, filtered count/find/stream, and atomic single-record
// create/update inside a transaction.
//
// Records are generic. Business fields live in Fields as JSON scalars
// (string, float64, bool or nil); dates are ISO-8601 strings. System fields
// (id, code, is_active, audit stamps) are first-class columns.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Sentinel errors. Implementations mark their driver errors with these so
// callers can use errors.Is regardless of backend.
var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrInvalidField    = errors.New("invalid field name")
)

// System field names addressable in filters, sorts and matches.
const (
	FieldID        = "id"
	FieldCode      = "code"
	FieldActive    = "is_active"
	FieldCreatedBy = "created_by"
	FieldCreatedAt = "created_at"
	FieldUpdatedBy = "updated_by"
	FieldUpdatedAt = "updated_at"
)

// SystemFields lists the columns that are not stored in Record.Fields.
var SystemFields = []string{FieldID, FieldCode, FieldActive, FieldCreatedBy, FieldCreatedAt, FieldUpdatedBy, FieldUpdatedAt}

// IsSystemField reports whether name addresses a Record column rather than a business field.
func IsSystemField(name string) bool {
	for _, f := range SystemFields {
		if f == name {
			return true
		}
	}
	return false
}

// Record is one persisted entity row.
type Record struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	Code      string         `json:"code,omitempty"`
	Fields    map[string]any `json:"fields"`
	Active    bool           `json:"isActive"`
	CreatedBy string         `json:"createdBy,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedBy string         `json:"updatedBy,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Value resolves a field by name, looking at system columns first.
// is_active resolves to "Y" or "N".
func (r Record) Value(field string) (any, bool) {
	switch field {
	case FieldID:
		return r.ID, true
	case FieldCode:
		if r.Code == "" {
			return nil, false
		}
		return r.Code, true
	case FieldActive:
		return ActiveFlag(r.Active), true
	case FieldCreatedBy:
		return r.CreatedBy, r.CreatedBy != ""
	case FieldCreatedAt:
		return r.CreatedAt, !r.CreatedAt.IsZero()
	case FieldUpdatedBy:
		return r.UpdatedBy, r.UpdatedBy != ""
	case FieldUpdatedAt:
		return r.UpdatedAt, !r.UpdatedAt.IsZero()
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Text is Value formatted with FormatValue; missing fields are "".
func (r Record) Text(field string) string {
	v, _ := r.Value(field)
	return FormatValue(v)
}

// Clone returns a deep copy of the record's field map.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// ActiveFlag renders the active flag the way it is filtered and exported.
func ActiveFlag(active bool) string {
	if active {
		return "Y"
	}
	return "N"
}

// Query narrows Count, Find and Stream. The zero value matches every record
// of the entity in insertion order.
type Query struct {
	Filters      []Filter
	Search       string   // case-insensitive substring over SearchFields
	SearchFields []string
	SortField    string
	SortDesc     bool
	SortNumeric  bool // compare SortField as a number rather than text
	Limit        int  // 0 means unlimited
	Offset       int
}

// Reader is the read side of a store.
type Reader interface {
	// Get returns ErrNotFound when the record does not exist.
	Get(ctx context.Context, entity, id string) (Record, error)

	// FindOne returns the first record whose fields equal every entry of
	// match (compared with FormatValue), or ErrNotFound.
	FindOne(ctx context.Context, entity string, match map[string]string) (Record, error)

	Count(ctx context.Context, entity string, q Query) (int, error)
	Find(ctx context.Context, entity string, q Query) ([]Record, error)

	// Stream calls fn for each matching record without materializing the
	// result set. fn must not call back into the store.
	Stream(ctx context.Context, entity string, q Query, fn func(Record) error) error

	// CodesWithPrefix lists the codes of entity that start with prefix.
	CodesWithPrefix(ctx context.Context, entity, prefix string) ([]string, error)
}

// Writer is the transactional write side. Get sees uncommitted writes of the
// same transaction.
type Writer interface {
	Get(ctx context.Context, entity, id string) (Record, error)

	// Create returns ErrUniqueViolation when (entity, id) or (entity, code) is taken.
	Create(ctx context.Context, rec Record) error

	// Update replaces the stored record with the same (entity, id).
	Update(ctx context.Context, rec Record) error
}

// Store is a complete backend.
type Store interface {
	Reader

	// Tx runs fn in a transaction, committing when fn returns nil.
	Tx(ctx context.Context, fn func(w Writer) error) error

	Close() error
}

// Exists reports whether entity/id is stored.
func Exists(ctx context.Context, r Reader, entity, id string) (bool, error) {
	_, err := r.Get(ctx, entity, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUniqueViolation reports whether err is or wraps ErrUniqueViolation.
func IsUniqueViolation(err error) bool { return errors.Is(err, ErrUniqueViolation) }
