package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// FindDuplicate returns the stored record whose unique fields all equal the
// row's, or nil. A null unique field means the row cannot conflict.
// It only detects; policy belongs to the caller.
func FindDuplicate(ctx context.Context, r store.Reader, schema *ColumnSchema, row TypedRow) (*store.Record, error) {
	match, ok := uniqueMatch(schema, row)
	if !ok {
		return nil, nil
	}
	rec, err := r.FindOne(ctx, schema.Entity, match)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "check duplicate %s", schema.Entity)
	}
	return &rec, nil
}

func uniqueMatch(schema *ColumnSchema, row TypedRow) (map[string]string, bool) {
	if len(schema.UniqueFields) == 0 {
		return nil, false
	}
	match := make(map[string]string, len(schema.UniqueFields))
	for _, f := range schema.UniqueFields {
		v := row[f]
		if v.IsNull() {
			return nil, false
		}
		match[f] = v.Text()
	}
	return match, true
}

// UniqueKey renders the row's business key, for in-file duplicate detection
// and row locking. ok is false when the key has a null part.
func UniqueKey(schema *ColumnSchema, row TypedRow) (key string, ok bool) {
	if len(schema.UniqueFields) == 0 {
		return "", false
	}
	parts := make([]string, len(schema.UniqueFields))
	for i, f := range schema.UniqueFields {
		v := row[f]
		if v.IsNull() {
			return "", false
		}
		parts[i] = v.Text()
	}
	return strings.Join(parts, "\x1f"), true
}

// duplicateError describes the conflict in the row's own terms, e.g.
// `record with SKU "ABC-1" already exists`.
func duplicateError(schema *ColumnSchema, row TypedRow) error {
	parts := make([]string, 0, len(schema.UniqueFields))
	for _, f := range schema.UniqueFields {
		header := f
		if c, ok := schema.Column(f); ok {
			header = c.Header
		}
		parts = append(parts, fmt.Sprintf("%s %q", header, row[f].Text()))
	}
	return errors.Mark(
		errors.Newf("record with %s already exists", strings.Join(parts, " and ")),
		ErrDuplicate)
}

// uniqueHeaders names the unique columns the way the file does.
func uniqueHeaders(schema *ColumnSchema) string {
	headers := make([]string, 0, len(schema.UniqueFields))
	for _, f := range schema.UniqueFields {
		if c, ok := schema.Column(f); ok {
			headers = append(headers, c.Header)
			continue
		}
		headers = append(headers, f)
	}
	return strings.Join(headers, ", ")
}
