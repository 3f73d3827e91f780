package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetport/internal/store"
	"github.com/JonMunkholm/sheetport/internal/store/memstore"
)

func importCSV(t *testing.T, im *Importer, svc EntityService, opts ImportOptions, lines ...string) *ImportResult {
	t.Helper()
	res, err := im.Import(context.Background(), svc, "upload.csv", csvFile(lines...), opts)
	require.NoError(t, err)
	require.Equal(t, res.TotalRows, res.SuccessCount+res.FailedCount)
	require.Len(t, res.Outcomes, res.TotalRows)
	return res
}

func kinds(res *ImportResult) []OutcomeKind {
	out := make([]OutcomeKind, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.Kind
	}
	return out
}

func TestImport_DuplicatePolicies(t *testing.T) {
	file := []string{"Name,Latitude", "Alpha,10", "Alpha,20"}

	t.Run("reject by default", func(t *testing.T) {
		st := memstore.New()
		res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{}, file...)

		assert.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeRejected}, kinds(res))
		require.Len(t, res.DetailedErrors, 1)
		assert.Equal(t, RowError{
			Row:     3,
			Type:    KindDuplicate,
			Message: `record with Name "Alpha" already exists`,
			Action:  "Enable skip duplicates or update existing, or remove the row",
		}, res.DetailedErrors[0])
		assert.Equal(t, []string{`Row 3: record with Name "Alpha" already exists`}, res.Errors)
	})

	t.Run("skip duplicates", func(t *testing.T) {
		st := memstore.New()
		res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{SkipDuplicates: true}, file...)

		assert.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeSkipped}, kinds(res))
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, 1, res.FailedCount)
		require.Len(t, res.DetailedErrors, 1)
		assert.Equal(t, RowError{
			Row:     3,
			Type:    KindDuplicate,
			Column:  "Name",
			Message: `record with Name "Alpha" already exists`,
			Action:  "Row was skipped; enable update existing to overwrite the stored record",
		}, res.DetailedErrors[0])
		assert.Equal(t, []string{`Row 3: skipped: record with Name "Alpha" already exists`}, res.Errors)
	})

	t.Run("update existing", func(t *testing.T) {
		st := memstore.New()
		svc := NewSchemaService(zoneSchema(), WithClock(fixedClock))
		res := importCSV(t, newTestImporter(st, ImporterConfig{}), svc, ImportOptions{UpdateExisting: true, SkipDuplicates: true}, file...)

		assert.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeUpdated}, kinds(res))
		assert.Equal(t, 2, res.SuccessCount)
		created, updated := res.Outcomes[0].Record, res.Outcomes[1].Record
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, "ZN001", updated.Code)

		stored, err := st.Get(context.Background(), "zones", created.ID)
		require.NoError(t, err)
		assert.Equal(t, 20.0, stored.Fields["latitude"])
		assert.Equal(t, "Alpha", stored.Fields["name"])

		n, err := st.Count(context.Background(), "zones", store.Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestImport_UpdateKeepsStoredValuesForBlankCells(t *testing.T) {
	st := seededStore(t)
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(warehouseSchema()), ImportOptions{UpdateExisting: true},
		"Warehouse Name,Zone ID,Capacity,State",
		"Main,z1,,TX",
	)
	require.Equal(t, []OutcomeKind{OutcomeUpdated}, kinds(res))

	stored, err := st.Get(context.Background(), "warehouses", "w1")
	require.NoError(t, err)
	assert.Equal(t, "TX", stored.Fields["state"])
	assert.NotContains(t, stored.Fields, "capacity")
	assert.Equal(t, DefaultActor, stored.UpdatedBy)
}

func TestImport_MissingForeignKeyIsAlwaysRejected(t *testing.T) {
	for _, opts := range []ImportOptions{{}, {SkipDuplicates: true}, {UpdateExisting: true}} {
		t.Run(string(opts.Policy()), func(t *testing.T) {
			st := seededStore(t)
			res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(warehouseSchema()), opts,
				"Warehouse Name,Zone ID,Capacity",
				"Annex,z404,10",
				"Main,z404,10", // duplicate of w1
			)

			for _, o := range res.Outcomes {
				require.Equal(t, OutcomeRejected, o.Kind, "row %d", o.Row)
				require.Len(t, o.Errors, 1)
				assert.Equal(t, KindForeignKey, o.Errors[0].Type)
				assert.Equal(t, "Zone ID", o.Errors[0].Column)
				assert.Equal(t, "Zone with ID z404 does not exist", o.Errors[0].Message)
			}

			stored, err := st.Get(context.Background(), "warehouses", "w1")
			require.NoError(t, err)
			assert.Equal(t, "z1", stored.Fields["zone_id"], "update must not introduce a dangling reference")
		})
	}
}

func TestImport_MissingRequiredColumnValue(t *testing.T) {
	st := seededStore(t)
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(warehouseSchema()), ImportOptions{},
		"Warehouse Name,Zone ID",
		",z1",
		"East,z1",
	)

	assert.Equal(t, []OutcomeKind{OutcomeRejected, OutcomeCreated}, kinds(res))
	require.Len(t, res.DetailedErrors, 1)
	assert.Equal(t, KindFieldValidation, res.DetailedErrors[0].Type)
	assert.Equal(t, "Warehouse Name", res.DetailedErrors[0].Column)
	assert.Equal(t, 2, res.DetailedErrors[0].Row)

	n, err := st.Count(context.Background(), "warehouses", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the seeded record and East")
}

func TestImport_StructuralErrorProcessesNothing(t *testing.T) {
	st := memstore.New()
	im := newTestImporter(st, ImporterConfig{})

	for name, data := range map[string][]byte{
		"zones.txt": csvFile("Name", "Alpha"),
		"zones.csv": nil,
	} {
		res, err := im.Import(context.Background(), NewSchemaService(zoneSchema()), name, data, ImportOptions{})
		require.Error(t, err, name)
		assert.Nil(t, res)
		assert.Equal(t, KindStructural, KindOf(err))
	}

	n, err := st.Count(context.Background(), "zones", store.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImport_SequentialCodesAcrossBatches(t *testing.T) {
	st := memstore.New()
	im := newTestImporter(st, ImporterConfig{})
	svc := NewSchemaService(productSchema())

	first := importCSV(t, im, svc, ImportOptions{BatchSize: 1},
		"SKU,Name", "H-1,Hammer small", "H-2,Hammer large")
	second := importCSV(t, im, svc, ImportOptions{},
		"SKU,Name", "H-3,hammer claw", "H-4,Hammock", "S-1,Saw")

	var codes []string
	for _, res := range []*ImportResult{first, second} {
		for _, rec := range res.ImportedRecords {
			codes = append(codes, rec.Code)
		}
	}
	assert.Equal(t, []string{"HAM001", "HAM002", "HAM003", "HAM004", "SAW001"}, codes)
}

// staleCodes hides existing codes from the first n lookups, as if another
// import committed between our read and our write.
type staleCodes struct {
	*memstore.Store
	mu    sync.Mutex
	stale int
}

func (s *staleCodes) CodesWithPrefix(ctx context.Context, entity, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale > 0 {
		s.stale--
		return nil, nil
	}
	return s.Store.CodesWithPrefix(ctx, entity, prefix)
}

func TestImport_CodeCollisionRetriesOnce(t *testing.T) {
	st := &staleCodes{Store: memstore.New(), stale: 1}
	seedRecord(t, st, store.Record{ID: "z1", Entity: "zones", Code: "ZN001", Fields: map[string]any{"name": "Other"}})

	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{},
		"Name", "Alpha")
	require.Equal(t, []OutcomeKind{OutcomeCreated}, kinds(res))
	assert.Equal(t, "ZN002", res.ImportedRecords[0].Code)
}

func TestImport_CodeCollisionExhausted(t *testing.T) {
	st := &staleCodes{Store: memstore.New(), stale: maxCodeAttempts}
	seedRecord(t, st, store.Record{ID: "z1", Entity: "zones", Code: "ZN001", Fields: map[string]any{"name": "Other"}})

	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{},
		"Name", "Alpha", "Beta")

	assert.Equal(t, []OutcomeKind{OutcomeRejected, OutcomeCreated}, kinds(res))
	require.Len(t, res.DetailedErrors, 1)
	assert.Equal(t, KindCodeGeneration, res.DetailedErrors[0].Type)
	assert.Contains(t, res.DetailedErrors[0].Message, "could not allocate a unique code after 2 attempts")
	assert.Equal(t, "ZN002", res.ImportedRecords[0].Code)
}

type brokenTx struct{ *memstore.Store }

func (brokenTx) Tx(context.Context, func(store.Writer) error) error {
	return errors.New("disk full")
}

func TestImport_PersistenceErrorRejectsRow(t *testing.T) {
	st := brokenTx{memstore.New()}
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{},
		"Name", "Alpha", "Beta")

	assert.Equal(t, []OutcomeKind{OutcomeRejected, OutcomeRejected}, kinds(res))
	assert.Equal(t, KindPersistence, res.DetailedErrors[0].Type)
	assert.Equal(t, "failed to save record: disk full", res.DetailedErrors[0].Message)
}

// slowLookups blocks duplicate lookups until the row's context ends.
type slowLookups struct{ *memstore.Store }

func (slowLookups) FindOne(ctx context.Context, _ string, _ map[string]string) (store.Record, error) {
	<-ctx.Done()
	return store.Record{}, ctx.Err()
}

func TestImport_RowTimeout(t *testing.T) {
	st := slowLookups{memstore.New()}
	im := newTestImporter(st, ImporterConfig{RowTimeout: 20 * time.Millisecond})
	res := importCSV(t, im, NewSchemaService(zoneSchema()), ImportOptions{}, "Name", "Alpha", "Beta")

	assert.Equal(t, []OutcomeKind{OutcomeRejected, OutcomeRejected}, kinds(res))
	assert.Equal(t, KindTimeout, res.DetailedErrors[0].Type)
	assert.Equal(t, "row timed out after 20ms", res.DetailedErrors[0].Message)
}

type panickyService struct{ *SchemaService }

func (p panickyService) PrepareForInsert(ctx context.Context, r store.Reader, row TypedRow, actor string) (store.Record, error) {
	if name, _ := row["name"].Str(); name == "Boom" {
		panic("nil map write")
	}
	return p.SchemaService.PrepareForInsert(ctx, r, row, actor)
}

func TestImport_PanicIsContainedToItsRow(t *testing.T) {
	st := memstore.New()
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), panickyService{NewSchemaService(zoneSchema())}, ImportOptions{},
		"Name", "Alpha", "Boom", "Gamma")

	assert.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeRejected, OutcomeCreated}, kinds(res))
	assert.Equal(t, 3, res.DetailedErrors[0].Row)
	assert.Contains(t, res.DetailedErrors[0].Message, "internal error: nil map write")
}

func TestImport_StrictStopsAtFirstRejection(t *testing.T) {
	st := memstore.New()
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{Strict: true},
		"Name,Latitude", "Alpha,1", "Beta,95", "Gamma,2")

	assert.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeRejected}, kinds(res))
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, "Latitude must be between -90 and 90", res.DetailedErrors[0].Message)
}

func TestImport_CancellationBetweenRows(t *testing.T) {
	st := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var phases []ImportPhase
	opts := ImportOptions{BatchSize: 1, Progress: func(p ImportProgress) {
		phases = append(phases, p.Phase)
		if p.Phase == PhaseImporting && p.Processed == 2 {
			cancel()
		}
	}}
	res, err := newTestImporter(st, ImporterConfig{}).Import(ctx, NewSchemaService(zoneSchema()), "z.csv",
		csvFile("Name", "A", "B", "C", "D"), opts)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, []ImportPhase{PhaseStarting, PhaseImporting, PhaseImporting, PhaseCancelled}, phases)

	n, err := st.Count(context.Background(), "zones", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "committed rows stay committed")
}

func TestImport_ActorStampsRecords(t *testing.T) {
	st := memstore.New()
	ctx := ContextWithActor(context.Background(), "ops@example.com")
	res, err := newTestImporter(st, ImporterConfig{}).Import(ctx, NewSchemaService(zoneSchema(), WithClock(fixedClock)), "z.csv",
		csvFile("Name", "Alpha"), ImportOptions{})
	require.NoError(t, err)

	rec := res.ImportedRecords[0]
	assert.Equal(t, "ops@example.com", rec.CreatedBy)
	assert.Equal(t, "ops@example.com", rec.UpdatedBy)
	assert.True(t, rec.CreatedAt.Equal(fixedNow))
	assert.True(t, rec.Active)
}

func TestImport_ConcurrentRowsKeepSequentialSemantics(t *testing.T) {
	lines := []string{"Warehouse Name,Zone ID,Capacity"}
	for i := 0; i < 40; i++ {
		// Every name appears twice, the second time with a bad zone or a duplicate.
		lines = append(lines, fmt.Sprintf("W%02d,z1,%d", i%20, i))
	}
	lines = append(lines, "Broken,z1,-1")

	run := func(concurrency int, opts ImportOptions) *ImportResult {
		st := seededStore(t)
		im := newTestImporter(st, ImporterConfig{RowConcurrency: concurrency, BatchSize: 16})
		return importCSV(t, im, NewSchemaService(warehouseSchema()), opts, lines...)
	}

	for _, opts := range []ImportOptions{{}, {UpdateExisting: true}} {
		sequential := run(1, opts)
		concurrent := run(8, opts)

		assert.Equal(t, kinds(sequential), kinds(concurrent))
		for i := range concurrent.Outcomes {
			assert.Equal(t, sequential.Outcomes[i].Row, concurrent.Outcomes[i].Row)
		}
		assert.Equal(t, 20, concurrent.Created)
		assert.Equal(t, 21, concurrent.FailedCount+concurrent.Updated)
	}
}

func TestImport_DurationUsesImporterClock(t *testing.T) {
	im := newTestImporter(memstore.New(), ImporterConfig{})
	now := fixedNow
	im.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	res := importCSV(t, im, NewSchemaService(zoneSchema()), ImportOptions{}, "Name,Latitude", "Alpha,10")
	assert.Equal(t, time.Second, res.Duration)
}

func TestImport_KeepsQuoteCharacters(t *testing.T) {
	st := memstore.New()
	res := importCSV(t, newTestImporter(st, ImporterConfig{}), NewSchemaService(zoneSchema()), ImportOptions{},
		"Name,Latitude", `"Saw 16""",10`, `'90s Zone,20`)

	require.Equal(t, []OutcomeKind{OutcomeCreated, OutcomeCreated}, kinds(res))
	assert.Equal(t, `Saw 16"`, res.Outcomes[0].Record.Fields["name"])
	assert.Equal(t, "'90s Zone", res.Outcomes[1].Record.Fields["name"])
}
