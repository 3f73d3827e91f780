// Package sqlstore implements store.Store on database/sql for Postgres
// (through pgx) and SQLite (through modernc.org/sqlite). All entities share
// one table, entity_records, with business fields in a JSON document column.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/store"
)

const recordColumns = "id, entity, code, data, is_active, created_by, created_at, updated_by, updated_at"

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed store.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

var _ store.Store = (*Store)(nil)

// New wraps an open database. Call EnsureSchema before first use.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

// PoolConfig mirrors the pgxpool settings exposed through configuration.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// OpenPostgres builds a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, url string, pc PoolConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if pc.MaxConns > 0 {
		poolCfg.MaxConns = pc.MaxConns
	}
	poolCfg.MinConns = pc.MinConns
	if pc.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := New(stdlib.OpenDBFromPool(pool), Postgres)
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Open connects to the database cfg describes and prepares its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if d.Name == SQLite.Name {
		return OpenSQLite(ctx, cfg.URL)
	}
	return OpenPostgres(ctx, cfg.URL, PoolConfig{
		MaxConns:        int32(cfg.MaxConns),
		MinConns:        int32(cfg.MinConns),
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
}

// OpenSQLite opens a SQLite database file (or ":memory:"). A single
// connection is used so in-memory databases are shared and writers never
// contend for the file lock.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	s := New(db, SQLite)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates entity_records when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.d.ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, entity, id string) (store.Record, error) {
	return getRecord(ctx, s.db, s.d, entity, id)
}

func getRecord(ctx context.Context, q queryer, d Dialect, entity, id string) (store.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM entity_records WHERE entity = %s AND id = %s",
		recordColumns, d.placeholder(1), d.placeholder(2))
	rec, err := scanRecord(q.QueryRowContext(ctx, query, entity, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, errors.Wrapf(store.ErrNotFound, "%s/%s", entity, id)
	}
	if err != nil {
		return store.Record{}, errors.Wrapf(err, "get %s/%s", entity, id)
	}
	return rec, nil
}

// FindOne implements store.Reader.
func (s *Store) FindOne(ctx context.Context, entity string, match map[string]string) (store.Record, error) {
	wb := newWhereBuilder(s.d)
	wb.Add("entity", entity)
	if err := wb.AddMatch(match); err != nil {
		return store.Record{}, err
	}
	where, args := wb.Build()

	query := fmt.Sprintf("SELECT %s FROM entity_records%s ORDER BY seq LIMIT 1", recordColumns, where)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, errors.Wrapf(err, "find %s", entity)
	}
	return rec, nil
}

func (s *Store) where(entity string, q store.Query) (string, []interface{}, error) {
	wb := newWhereBuilder(s.d)
	wb.Add("entity", entity)
	if err := wb.AddFilters(q.Filters); err != nil {
		return "", nil, err
	}
	if err := wb.AddSearch(q.Search, q.SearchFields); err != nil {
		return "", nil, err
	}
	where, args := wb.Build()
	return where, args, nil
}

// Count implements store.Reader.
func (s *Store) Count(ctx context.Context, entity string, q store.Query) (int, error) {
	where, args, err := s.where(entity, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_records"+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", entity)
	}
	return n, nil
}

func (s *Store) selectQuery(entity string, q store.Query) (string, []interface{}, error) {
	where, args, err := s.where(entity, q)
	if err != nil {
		return "", nil, err
	}

	order := "seq"
	if q.SortField != "" {
		expr, err := s.d.textExpr(q.SortField)
		if q.SortNumeric && err == nil && !store.IsSystemField(q.SortField) {
			expr, err = s.d.numberExpr(q.SortField)
		}
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.SortDesc {
			dir = "DESC"
		}
		order = fmt.Sprintf("%s %s, seq", expr, dir)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM entity_records%s ORDER BY %s", recordColumns, where, order)
	switch {
	case q.Limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	case q.Offset > 0 && s.d.Name == SQLite.Name:
		// SQLite requires a LIMIT before OFFSET.
		b.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}
	return b.String(), args, nil
}

// Find implements store.Reader.
func (s *Store) Find(ctx context.Context, entity string, q store.Query) ([]store.Record, error) {
	var out []store.Record
	err := s.Stream(ctx, entity, q, func(r store.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Stream implements store.Reader.
func (s *Store) Stream(ctx context.Context, entity string, q store.Query, fn func(store.Record) error) error {
	query, args, err := s.selectQuery(entity, q)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "query %s", entity)
	}
	defer rows.Close()

	for rows.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := scanRecord(rows)
		if err != nil {
			return errors.Wrapf(err, "scan %s", entity)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CodesWithPrefix implements store.Reader.
func (s *Store) CodesWithPrefix(ctx context.Context, entity, prefix string) ([]string, error) {
	query := fmt.Sprintf("SELECT code FROM entity_records WHERE entity = %s AND code LIKE %s",
		s.d.placeholder(1), s.d.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, entity, prefix+"%")
	if err != nil {
		return nil, errors.Wrapf(err, "codes for %s", entity)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		// LIKE is case-insensitive on SQLite.
		if strings.HasPrefix(code, prefix) {
			codes = append(codes, code)
		}
	}
	return codes, rows.Err()
}

// Tx implements store.Store.
func (s *Store) Tx(ctx context.Context, fn func(w store.Writer) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txWriter{tx: tx, d: s.d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.d.classify(errors.Wrap(err, "commit"))
	}
	return nil
}

type txWriter struct {
	tx *sql.Tx
	d  Dialect
}

func (w *txWriter) Get(ctx context.Context, entity, id string) (store.Record, error) {
	return getRecord(ctx, w.tx, w.d, entity, id)
}

func (w *txWriter) Create(ctx context.Context, rec store.Record) error {
	if rec.ID == "" {
		return errors.New("create: record id is empty")
	}
	data, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	ph := make([]string, 9)
	for i := range ph {
		ph[i] = w.d.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO entity_records (%s) VALUES (%s)", recordColumns, strings.Join(ph, ", "))
	_, err = w.tx.ExecContext(ctx, query,
		rec.ID, rec.Entity, nullString(rec.Code), data, store.ActiveFlag(rec.Active),
		rec.CreatedBy, w.d.timeArg(rec.CreatedAt), rec.UpdatedBy, w.d.timeArg(rec.UpdatedAt))
	if err != nil {
		return w.d.classify(errors.Wrapf(err, "insert %s", rec.Entity))
	}
	return nil
}

func (w *txWriter) Update(ctx context.Context, rec store.Record) error {
	data, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	p := w.d.placeholder
	query := fmt.Sprintf(
		"UPDATE entity_records SET code = %s, data = %s, is_active = %s, updated_by = %s, updated_at = %s WHERE entity = %s AND id = %s",
		p(1), p(2), p(3), p(4), p(5), p(6), p(7))
	res, err := w.tx.ExecContext(ctx, query,
		nullString(rec.Code), data, store.ActiveFlag(rec.Active), rec.UpdatedBy, w.d.timeArg(rec.UpdatedAt),
		rec.Entity, rec.ID)
	if err != nil {
		return w.d.classify(errors.Wrapf(err, "update %s", rec.Entity))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "%s/%s", rec.Entity, rec.ID)
	}
	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, "encode fields")
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var (
		rec     store.Record
		code    sql.NullString
		data    []byte
		active  string
		created timeValue
		updated timeValue
	)
	if err := row.Scan(&rec.ID, &rec.Entity, &code, &data, &active, &rec.CreatedBy, &created, &rec.UpdatedBy, &updated); err != nil {
		return store.Record{}, err
	}
	rec.Code = code.String
	rec.Active = strings.EqualFold(strings.TrimSpace(active), "Y")
	rec.CreatedAt = created.t
	rec.UpdatedAt = updated.t
	rec.Fields = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Fields); err != nil {
			return store.Record{}, errors.Wrap(err, "decode fields")
		}
	}
	return rec, nil
}

// timeValue scans TIMESTAMPTZ columns and store.TimeLayout text alike.
type timeValue struct{ t time.Time }

func (tv *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		tv.t = time.Time{}
	case time.Time:
		tv.t = v.UTC()
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	default:
		return errors.Newf("unsupported time value %T", src)
	}
	return nil
}

func (tv *timeValue) parse(s string) error {
	for _, layout := range []string{store.TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			tv.t = t.UTC()
			return nil
		}
	}
	return errors.Newf("unparseable time %q", s)
}
