package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetport/internal/store"
)

func rec(id, code string, fields map[string]any) store.Record {
	return store.Record{
		ID:        id,
		Entity:    "zones",
		Code:      code,
		Fields:    fields,
		Active:    true,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, s *Store, recs ...store.Record) {
	t.Helper()
	ctx := context.Background()
	for _, r := range recs {
		require.NoError(t, s.Tx(ctx, func(w store.Writer) error { return w.Create(ctx, r) }))
	}
}

func TestTx_CreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, rec("1", "ZN001", map[string]any{"name": "North"}))

	got, err := s.Get(ctx, "zones", "1")
	require.NoError(t, err)
	assert.Equal(t, "ZN001", got.Code)
	assert.Equal(t, "North", got.Fields["name"])

	_, err = s.Get(ctx, "zones", "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestTx_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(w store.Writer) error {
		require.NoError(t, w.Create(ctx, rec("1", "ZN001", nil)))
		got, err := w.Get(ctx, "zones", "1")
		require.NoError(t, err)
		assert.Equal(t, "ZN001", got.Code)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := store.Exists(ctx, s, "zones", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	codes, err := s.CodesWithPrefix(ctx, "zones", "ZN")
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestCreate_UniqueCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, rec("1", "ZN001", nil))

	err := s.Tx(ctx, func(w store.Writer) error { return w.Create(ctx, rec("2", "ZN001", nil)) })
	assert.True(t, store.IsUniqueViolation(err))

	err = s.Tx(ctx, func(w store.Writer) error { return w.Create(ctx, rec("1", "ZN002", nil)) })
	assert.True(t, store.IsUniqueViolation(err))
}

func TestUpdate_ChangesCodeIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, rec("1", "ZN001", map[string]any{"name": "North"}))

	updated := rec("1", "ZN009", map[string]any{"name": "Far North"})
	require.NoError(t, s.Tx(ctx, func(w store.Writer) error { return w.Update(ctx, updated) }))

	codes, err := s.CodesWithPrefix(ctx, "zones", "ZN")
	require.NoError(t, err)
	assert.Equal(t, []string{"ZN009"}, codes)

	err = s.Tx(ctx, func(w store.Writer) error { return w.Update(ctx, rec("nope", "", nil)) })
	assert.True(t, store.IsNotFound(err))
}

func TestFindOne(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s,
		rec("1", "", map[string]any{"sku": "A-1", "warehouse_id": "w1"}),
		rec("2", "", map[string]any{"sku": "A-1", "warehouse_id": "w2"}),
	)

	got, err := s.FindOne(ctx, "zones", map[string]string{"sku": "A-1", "warehouse_id": "w2"})
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)

	_, err = s.FindOne(ctx, "zones", map[string]string{"sku": "B-2"})
	assert.True(t, store.IsNotFound(err))
}

func TestFind_FilterSortPage(t *testing.T) {
	s := New()
	ctx := context.Background()
	inactive := rec("3", "ZN003", map[string]any{"name": "Gamma", "capacity": float64(5)})
	inactive.Active = false
	seed(t, s,
		rec("1", "ZN001", map[string]any{"name": "Alpha", "capacity": float64(30)}),
		rec("2", "ZN002", map[string]any{"name": "Beta", "capacity": float64(100)}),
		inactive,
	)

	active, err := s.Find(ctx, "zones", store.Query{
		Filters: []store.Filter{{Field: store.FieldActive, Op: store.OpEquals, Value: "Y"}},
	})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := s.Count(ctx, "zones", store.Query{
		Filters: []store.Filter{{Field: "capacity", Op: store.OpGreater, Value: "20"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sorted, err := s.Find(ctx, "zones", store.Query{SortField: "capacity", SortNumeric: true, SortDesc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, sorted, 2)
	assert.Equal(t, "2", sorted[0].ID)
	assert.Equal(t, "1", sorted[1].ID)

	searched, err := s.Find(ctx, "zones", store.Query{Search: "ETA", SearchFields: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, "Beta", searched[0].Fields["name"])
}

func TestStream_StopsOnCallbackError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, rec("1", "", nil), rec("2", "", nil), rec("3", "", nil))

	stop := errors.New("stop")
	var seen []string
	err := s.Stream(ctx, "zones", store.Query{}, func(r store.Record) error {
		seen = append(seen, r.ID)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"1", "2"}, seen)
}
