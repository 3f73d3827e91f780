package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// Dialect captures the SQL differences between the supported backends.
// Business fields live in a JSON document column; system fields are columns.
type Dialect struct {
	Name string

	placeholder func(n int) string
	jsonText    func(field string) string // JSON field rendered as text
	jsonNumber  func(field string) string // JSON field as a number, NULL when not numeric
	createdAt   string                    // created_at rendered in store.TimeLayout
	updatedAt   string
	ilike       string
	timeArg     func(t time.Time) any
	isUnique    func(err error) bool
	ddl         []string
}

// Postgres stores data as JSONB and timestamps as TIMESTAMPTZ.
var Postgres = Dialect{
	Name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	jsonText:    func(field string) string { return fmt.Sprintf("(data->>'%s')", field) },
	jsonNumber: func(field string) string {
		return fmt.Sprintf(`(CASE WHEN jsonb_typeof(data->'%[1]s') = 'number' THEN (data->>'%[1]s')::numeric END)`, field)
	},
	createdAt: `to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`,
	updatedAt: `to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`,
	ilike:     "ILIKE",
	timeArg:   func(t time.Time) any { return t.UTC() },
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS entity_records (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL,
			entity     TEXT NOT NULL,
			code       TEXT,
			data       JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_active  CHAR(1) NOT NULL DEFAULT 'Y',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_by TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (entity, id),
			UNIQUE (entity, code)
		)`,
		`CREATE INDEX IF NOT EXISTS entity_records_entity_seq_idx ON entity_records (entity, seq)`,
	},
}

// SQLite stores data as JSON text and timestamps as store.TimeLayout text.
var SQLite = Dialect{
	Name:        "sqlite",
	placeholder: func(n int) string { return fmt.Sprintf("?%d", n) },
	jsonText: func(field string) string {
		return fmt.Sprintf(`(CASE json_type(data, '$.%[1]s') WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' `+
			`ELSE CAST(json_extract(data, '$.%[1]s') AS TEXT) END)`, field)
	},
	jsonNumber: func(field string) string {
		return fmt.Sprintf(`(CASE WHEN json_type(data, '$.%[1]s') IN ('integer', 'real') THEN json_extract(data, '$.%[1]s') END)`, field)
	},
	createdAt: "created_at",
	updatedAt: "updated_at",
	ilike:     "LIKE",
	timeArg:   func(t time.Time) any { return store.FormatValue(t) },
	isUnique: func(err error) bool {
		var se *sqlite.Error
		if errors.As(err, &se) {
			code := se.Code()
			return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		}
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS entity_records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL,
			entity     TEXT NOT NULL,
			code       TEXT,
			data       TEXT NOT NULL DEFAULT '{}',
			is_active  TEXT NOT NULL DEFAULT 'Y',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_by TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			UNIQUE (entity, id),
			UNIQUE (entity, code)
		)`,
		`CREATE INDEX IF NOT EXISTS entity_records_entity_seq_idx ON entity_records (entity, seq)`,
	},
}

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, errors.Newf("unsupported database driver %q", driver)
}

// textExpr renders a field, system or business, as comparable text.
func (d Dialect) textExpr(field string) (string, error) {
	switch field {
	case store.FieldID, store.FieldCode, store.FieldActive, store.FieldCreatedBy, store.FieldUpdatedBy:
		return field, nil
	case store.FieldCreatedAt:
		return d.createdAt, nil
	case store.FieldUpdatedAt:
		return d.updatedAt, nil
	}
	if !store.ValidFieldName(field) {
		return "", errors.Wrapf(store.ErrInvalidField, "%q", field)
	}
	return d.jsonText(field), nil
}

// numberExpr renders a business field as a number; system fields have none.
func (d Dialect) numberExpr(field string) (string, error) {
	if store.IsSystemField(field) {
		return "", errors.Newf("field %q is not numeric", field)
	}
	if !store.ValidFieldName(field) {
		return "", errors.Wrapf(store.ErrInvalidField, "%q", field)
	}
	return d.jsonNumber(field), nil
}

// classify marks driver errors with the store sentinels.
func (d Dialect) classify(err error) error {
	if err == nil {
		return nil
	}
	if d.isUnique(err) {
		return errors.Mark(err, store.ErrUniqueViolation)
	}
	return err
}
