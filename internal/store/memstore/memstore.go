// Package memstore is an in-memory store.Store. Transactions stage their
// writes and apply them atomically on commit; codes are unique per entity.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/store"
)

type table struct {
	order []string                // ids in insertion order
	byID  map[string]store.Record // id -> record
	codes map[string]string       // code -> id
}

func newTable() *table {
	return &table{byID: make(map[string]store.Record), codes: make(map[string]string)}
}

// Store keeps every entity in process memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) table(entity string) *table {
	t, ok := s.tables[entity]
	if !ok {
		t = newTable()
		s.tables[entity] = t
	}
	return t
}

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, entity, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tables[entity]; ok {
		if rec, ok := t.byID[id]; ok {
			return rec.Clone(), nil
		}
	}
	return store.Record{}, errors.Wrapf(store.ErrNotFound, "%s/%s", entity, id)
}

// FindOne implements store.Reader.
func (s *Store) FindOne(ctx context.Context, entity string, match map[string]string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[entity]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	for _, id := range t.order {
		rec := t.byID[id]
		if matchesAll(rec, match) {
			return rec.Clone(), nil
		}
	}
	return store.Record{}, store.ErrNotFound
}

func matchesAll(rec store.Record, match map[string]string) bool {
	for field, want := range match {
		v, ok := rec.Value(field)
		if !ok || store.FormatValue(v) != want {
			return false
		}
	}
	return true
}

// Count implements store.Reader.
func (s *Store) Count(ctx context.Context, entity string, q store.Query) (int, error) {
	q.Limit, q.Offset = 0, 0
	recs, err := s.Find(ctx, entity, q)
	return len(recs), err
}

// Find implements store.Reader.
func (s *Store) Find(ctx context.Context, entity string, q store.Query) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	var out []store.Record
	if t, ok := s.tables[entity]; ok {
		for _, id := range t.order {
			rec := t.byID[id]
			if store.MatchAll(rec, q) {
				out = append(out, rec.Clone())
			}
		}
	}
	s.mu.RUnlock()

	store.SortRecords(out, q)
	return store.Page(out, q), nil
}

// Stream implements store.Reader over a snapshot taken by Find.
func (s *Store) Stream(ctx context.Context, entity string, q store.Query, fn func(store.Record) error) error {
	recs, err := s.Find(ctx, entity, q)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// CodesWithPrefix implements store.Reader.
func (s *Store) CodesWithPrefix(ctx context.Context, entity, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var codes []string
	if t, ok := s.tables[entity]; ok {
		for code := range t.codes {
			if strings.HasPrefix(code, prefix) {
				codes = append(codes, code)
			}
		}
	}
	return codes, nil
}

// Tx implements store.Store. Writers are serialized; readers see only
// committed state.
func (s *Store) Tx(ctx context.Context, fn func(w store.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txWriter{s: s, pending: make(map[string]map[string]store.Record)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}
	tx.commit()
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// txWriter overlays staged records on the committed tables.
type txWriter struct {
	s       *Store
	pending map[string]map[string]store.Record
	created []store.Record // creation order, for commit
}

func (tx *txWriter) lookup(entity, id string) (store.Record, bool) {
	if rec, ok := tx.pending[entity][id]; ok {
		return rec, true
	}
	if t, ok := tx.s.tables[entity]; ok {
		rec, ok := t.byID[id]
		return rec, ok
	}
	return store.Record{}, false
}

// codeOwner returns the id holding code as seen from inside the transaction.
func (tx *txWriter) codeOwner(entity, code string) (string, bool) {
	for id, rec := range tx.pending[entity] {
		if rec.Code == code {
			return id, true
		}
	}
	t, ok := tx.s.tables[entity]
	if !ok {
		return "", false
	}
	id, ok := t.codes[code]
	if !ok {
		return "", false
	}
	if staged, ok := tx.pending[entity][id]; ok && staged.Code != code {
		return "", false
	}
	return id, true
}

func (tx *txWriter) stage(rec store.Record) {
	if tx.pending[rec.Entity] == nil {
		tx.pending[rec.Entity] = make(map[string]store.Record)
	}
	tx.pending[rec.Entity][rec.ID] = rec.Clone()
}

func (tx *txWriter) Get(ctx context.Context, entity, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	if rec, ok := tx.lookup(entity, id); ok {
		return rec.Clone(), nil
	}
	return store.Record{}, errors.Wrapf(store.ErrNotFound, "%s/%s", entity, id)
}

func (tx *txWriter) Create(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("create: record id is empty")
	}
	if _, ok := tx.lookup(rec.Entity, rec.ID); ok {
		return errors.Wrapf(store.ErrUniqueViolation, "%s id %s", rec.Entity, rec.ID)
	}
	if rec.Code != "" {
		if _, taken := tx.codeOwner(rec.Entity, rec.Code); taken {
			return errors.Wrapf(store.ErrUniqueViolation, "%s code %s", rec.Entity, rec.Code)
		}
	}
	tx.stage(rec)
	tx.created = append(tx.created, rec)
	return nil
}

func (tx *txWriter) Update(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.lookup(rec.Entity, rec.ID); !ok {
		return errors.Wrapf(store.ErrNotFound, "%s/%s", rec.Entity, rec.ID)
	}
	if rec.Code != "" {
		if owner, taken := tx.codeOwner(rec.Entity, rec.Code); taken && owner != rec.ID {
			return errors.Wrapf(store.ErrUniqueViolation, "%s code %s", rec.Entity, rec.Code)
		}
	}
	tx.stage(rec)
	return nil
}

func (tx *txWriter) commit() {
	isNew := make(map[string]bool, len(tx.created))
	for _, rec := range tx.created {
		isNew[rec.Entity+"/"+rec.ID] = true
	}
	for _, rec := range tx.created {
		t := tx.s.table(rec.Entity)
		t.order = append(t.order, rec.ID)
	}
	for entity, recs := range tx.pending {
		t := tx.s.table(entity)
		for id, rec := range recs {
			if old, ok := t.byID[id]; ok && !isNew[entity+"/"+id] && old.Code != "" && t.codes[old.Code] == id {
				delete(t.codes, old.Code)
			}
			if rec.Code != "" {
				t.codes[rec.Code] = id
			}
			t.byID[id] = rec
		}
	}
}
