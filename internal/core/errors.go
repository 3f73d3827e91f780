package core

// errors.go defines the import error taxonomy.
//
// Structural errors abort a batch before any row is processed. Every other
// kind is scoped to one row and ends up in ImportResult.DetailedErrors.
// Kinds are carried as cockroachdb/errors marks so they survive wrapping.

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// ErrorKind names one class of import failure.
type ErrorKind string

const (
	KindStructural      ErrorKind = "StructuralError"
	KindFieldValidation ErrorKind = "FieldValidationError"
	KindDuplicate       ErrorKind = "DuplicateError"
	KindForeignKey      ErrorKind = "ForeignKeyError"
	KindCodeGeneration  ErrorKind = "CodeGenerationError"
	KindPersistence     ErrorKind = "PersistenceError"
	KindTimeout         ErrorKind = "TimeoutError"
)

// Marks for errors.Is. Wrapped errors keep their mark.
var (
	ErrStructural      = errors.New("structural error")
	ErrFieldValidation = errors.New("field validation error")
	ErrDuplicate       = errors.New("duplicate record")
	ErrForeignKey      = errors.New("missing foreign key reference")
	ErrCodeGeneration  = errors.New("code generation failed")
	ErrPersistence     = errors.New("persistence error")
	ErrTimeout         = errors.New("row timed out")

	// ErrUnsupportedEntity is a client error: the entity name is not registered.
	ErrUnsupportedEntity = errors.New("unsupported entity")
)

var kindMarks = []struct {
	kind ErrorKind
	mark error
}{
	{KindStructural, ErrStructural},
	{KindFieldValidation, ErrFieldValidation},
	{KindDuplicate, ErrDuplicate},
	{KindForeignKey, ErrForeignKey},
	{KindCodeGeneration, ErrCodeGeneration},
	{KindTimeout, ErrTimeout},
	{KindPersistence, ErrPersistence},
}

// KindOf classifies err. Unmarked errors are persistence errors, except
// deadline overruns which are timeouts.
func KindOf(err error) ErrorKind {
	for _, km := range kindMarks {
		if errors.Is(err, km.mark) {
			return km.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindPersistence
}

// IsStructural reports whether err aborts a whole batch.
func IsStructural(err error) bool { return errors.Is(err, ErrStructural) }

// structuralError builds a batch-level error with a user hint.
func structuralError(hint, format string, args ...interface{}) error {
	err := errors.Mark(errors.Newf(format, args...), ErrStructural)
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

// RowError is one entry of ImportResult.DetailedErrors.
type RowError struct {
	Row     int       `json:"row"`
	Type    ErrorKind `json:"type"`
	Column  string    `json:"column,omitempty"`
	Message string    `json:"message"`
	Action  string    `json:"action,omitempty"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// newRowError converts an arbitrary per-row failure into a RowError.
// The action comes from the user-facing error table.
func newRowError(row int, err error) RowError {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindPersistence && store.IsUniqueViolation(err) {
		msg = "a record with the same key was saved concurrently"
	}
	return RowError{
		Row:     row,
		Type:    kind,
		Message: msg,
		Action:  MapError(err).Action,
	}
}
