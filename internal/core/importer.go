package core

// importer.go drives a decoded upload through the per-row state machine:
//
//	validate -> foreign keys -> duplicate check -> policy -> code -> create
//
// References are resolved before duplicates so a row naming a missing
// record is rejected under every policy.
//
// Every row ends Created, Updated, Skipped or Rejected. Only structural
// errors abort the batch; anything else, panics included, becomes a
// Rejected outcome for that row. Each write runs in its own transaction.

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetport/internal/store"
)

// Importer defaults.
const (
	DefaultBatchSize  = 500
	DefaultRowTimeout = 10 * time.Second
)

// ImporterConfig tunes an Importer. Zero values take the defaults.
type ImporterConfig struct {
	BatchSize           int
	RowTimeout          time.Duration
	RowConcurrency      int // >1 enables concurrent rows for entities without codes
	MaxFileSize         int64
	MaxHeaderSearchRows int
}

// Importer runs imports and previews against one store.
type Importer struct {
	store  store.Store
	cfg    ImporterConfig
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewImporter creates an importer. A nil logger uses slog.Default().
func NewImporter(st store.Store, cfg ImporterConfig, logger *slog.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RowTimeout <= 0 {
		cfg.RowTimeout = DefaultRowTimeout
	}
	if cfg.RowConcurrency <= 0 {
		cfg.RowConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (im *Importer) decodeOptions() DecodeOptions {
	return DecodeOptions{
		MaxFileSize:         im.cfg.MaxFileSize,
		MaxHeaderSearchRows: im.cfg.MaxHeaderSearchRows,
	}
}

// importRun is the state of one Import call.
type importRun struct {
	im        *Importer
	svc       EntityService
	schema    *ColumnSchema
	validator *RowValidator
	policy    Policy
	actor     string
	log       *slog.Logger
}

// Import decodes data and imports every row. The returned error is non-nil
// only for structural problems, in which case no row was processed.
// Cancelling ctx stops before the next row; committed rows stay committed.
func (im *Importer) Import(ctx context.Context, svc EntityService, fileName string, data []byte, opts ImportOptions) (*ImportResult, error) {
	schema := svc.Schema()
	rows, err := Decode(fileName, data, schema, im.decodeOptions())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	started := im.now()
	res := newImportResult(im.newID(), schema.Entity, fileName, started)
	run := &importRun{
		im:        im,
		svc:       svc,
		schema:    schema,
		validator: NewRowValidator(schema),
		policy:    opts.Policy(),
		actor:     ActorFromContext(ctx),
		log:       im.logger.With("import_id", res.ImportID, "entity", schema.Entity),
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = im.cfg.BatchSize
	}
	concurrent := schema.Code == nil && im.cfg.RowConcurrency > 1 && !opts.Strict

	run.log.Info("import started",
		"file", fileName,
		"actor", run.actor,
		"ip", IPAddressFromContext(ctx),
		"policy", run.policy,
		"batch_size", batchSize,
		"concurrent", concurrent,
	)
	im.report(opts.Progress, res, PhaseStarting, rows)

	chunk := make([]RawRow, 0, batchSize)
	for {
		chunk = chunk[:0]
		for len(chunk) < batchSize {
			raw, ok := rows.Next()
			if !ok {
				break
			}
			chunk = append(chunk, raw)
		}
		if len(chunk) == 0 {
			break
		}

		var (
			outcomes  []Outcome
			cancelled bool
			stopped   bool
		)
		if concurrent {
			outcomes, cancelled = run.processConcurrent(ctx, chunk)
		} else {
			outcomes, cancelled, stopped = run.processSequential(ctx, chunk, opts.Strict)
		}
		for _, o := range outcomes {
			res.add(o)
		}
		if cancelled {
			res.Cancelled = true
			break
		}
		if stopped {
			res.StoppedEarly = true
			break
		}
		im.report(opts.Progress, res, PhaseImporting, rows)
	}

	if err := rows.Err(); err != nil {
		res.Errors = append(res.Errors, "File: "+err.Error())
		res.StoppedEarly = true
	}

	res.Duration = im.now().Sub(started)
	phase := PhaseComplete
	if res.Cancelled {
		phase = PhaseCancelled
	}
	im.report(opts.Progress, res, phase, rows)

	run.log.Info("import finished",
		"rows", res.TotalRows,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"rejected", res.Rejected,
		"cancelled", res.Cancelled,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (im *Importer) report(cb ProgressCallback, res *ImportResult, phase ImportPhase, rows *Rows) {
	if cb == nil {
		return
	}
	read, total := rows.BytesRead()
	cb(ImportProgress{
		ImportID:   res.ImportID,
		Entity:     res.Entity,
		Phase:      phase,
		Processed:  res.TotalRows,
		Created:    res.Created,
		Updated:    res.Updated,
		Skipped:    res.Skipped,
		Rejected:   res.Rejected,
		BytesRead:  read,
		BytesTotal: total,
	})
}

// processSequential handles rows strictly in order. It stops before a row
// when ctx is done, and after a rejected row in strict mode.
func (run *importRun) processSequential(ctx context.Context, chunk []RawRow, strict bool) (outcomes []Outcome, cancelled, stopped bool) {
	outcomes = make([]Outcome, 0, len(chunk))
	for _, raw := range chunk {
		if ctx.Err() != nil {
			return outcomes, true, false
		}
		o := run.guard(raw.Line, func() Outcome {
			return run.finishRow(ctx, raw, run.validator.ValidateRow(raw))
		})
		outcomes = append(outcomes, o)
		if strict && o.Kind == OutcomeRejected {
			return outcomes, false, true
		}
	}
	return outcomes, false, false
}

// processConcurrent validates the chunk, groups rows by unique key and runs
// the groups in parallel. Rows of one group run in input order, so two rows
// with the same key resolve exactly as they would sequentially.
func (run *importRun) processConcurrent(ctx context.Context, chunk []RawRow) ([]Outcome, bool) {
	results := make([]ValidationResult, len(chunk))
	groups := make(map[string][]int)
	var order []string
	for i, raw := range chunk {
		run.guard(raw.Line, func() Outcome {
			results[i] = run.validator.ValidateRow(raw)
			return Outcome{}
		})
		key, ok := "", false
		if results[i].Valid() && results[i].Row != nil {
			key, ok = UniqueKey(run.schema, results[i].Row)
		}
		if !ok {
			key = "#" + strconv.Itoa(i)
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	outcomes := make([]Outcome, len(chunk))
	started := make([]bool, len(chunk))

	var g errgroup.Group
	g.SetLimit(run.im.cfg.RowConcurrency)
	for _, key := range order {
		if ctx.Err() != nil {
			break
		}
		idxs := groups[key]
		g.Go(func() error {
			for _, i := range idxs {
				if ctx.Err() != nil {
					return nil
				}
				started[i] = true
				raw, vr := chunk[i], results[i]
				outcomes[i] = run.guard(raw.Line, func() Outcome {
					if vr.Row == nil && vr.Valid() {
						return rejected(raw.Line, errors.Mark(errors.New("row could not be validated"), ErrFieldValidation))
					}
					return run.finishRow(ctx, raw, vr)
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Outcome, 0, len(chunk))
	cancelled := false
	for i := range chunk {
		if !started[i] {
			cancelled = true
			continue
		}
		out = append(out, outcomes[i])
	}
	return out, cancelled
}

// guard converts a panic in fn into a Rejected outcome.
func (run *importRun) guard(line int, fn func() Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			run.log.Error("panic while importing row", "row", line, "panic", r)
			out = rejected(line, errors.Mark(errors.Newf("internal error: %v", r), ErrPersistence))
		}
	}()
	return fn()
}

// finishRow takes a validated row to its terminal state.
func (run *importRun) finishRow(ctx context.Context, raw RawRow, vr ValidationResult) Outcome {
	line := raw.Line
	if !vr.Valid() {
		return Outcome{Row: line, Kind: OutcomeRejected, Errors: vr.RowErrors(line)}
	}
	row := vr.Row

	// The row runs to completion once started, even if ctx is cancelled;
	// only the per-row timeout bounds it.
	rowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), run.im.cfg.RowTimeout)
	defer cancel()

	if o, failed := run.checkReferences(rowCtx, line, row); failed {
		return o
	}

	st := run.im.store
	existing, err := run.svc.CheckDuplicate(rowCtx, st, row)
	if err != nil {
		return rejected(line, run.rowFailure(err))
	}
	if existing != nil {
		switch run.policy {
		case PolicySkip:
			return skipped(line, run.schema, row)
		case PolicyUpdate:
			return run.update(rowCtx, line, *existing, row)
		default:
			return rejected(line, duplicateError(run.schema, row))
		}
	}

	for attempt := 1; ; attempt++ {
		rec, err := run.svc.PrepareForInsert(rowCtx, st, row, run.actor)
		if err != nil {
			return rejected(line, run.rowFailure(err))
		}
		err = st.Tx(rowCtx, func(w store.Writer) error {
			return w.Create(rowCtx, rec)
		})
		if err == nil {
			return Outcome{Row: line, Kind: OutcomeCreated, Record: &rec}
		}
		if store.IsUniqueViolation(err) && rec.Code != "" {
			if attempt < maxCodeAttempts {
				run.log.Debug("code collision, regenerating", "row", line, "code", rec.Code)
				continue
			}
			return rejected(line, errors.Mark(
				errors.Newf("could not allocate a unique code after %d attempts (last tried %s)", attempt, rec.Code),
				ErrCodeGeneration))
		}
		return rejected(line, run.rowFailure(err))
	}
}

// update merges row onto existing.
func (run *importRun) update(ctx context.Context, line int, existing store.Record, row TypedRow) Outcome {
	merged := run.svc.UpdateExisting(existing, row, run.actor)
	err := run.im.store.Tx(ctx, func(w store.Writer) error {
		return w.Update(ctx, merged)
	})
	if err != nil {
		return rejected(line, run.rowFailure(err))
	}
	return Outcome{Row: line, Kind: OutcomeUpdated, Record: &merged}
}

func (run *importRun) checkReferences(ctx context.Context, line int, row TypedRow) (Outcome, bool) {
	missing, err := run.svc.ValidateForeignKeys(ctx, run.im.store, row)
	if err != nil {
		return rejected(line, run.rowFailure(err)), true
	}
	if len(missing) > 0 {
		return Outcome{Row: line, Kind: OutcomeRejected, Errors: missing.RowErrors(line, run.schema)}, true
	}
	return Outcome{}, false
}

// rowFailure classifies a store error as a timeout or persistence error.
func (run *importRun) rowFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(
			errors.Newf("row timed out after %s", run.im.cfg.RowTimeout),
			ErrTimeout)
	}
	for _, km := range kindMarks {
		if errors.Is(err, km.mark) {
			return err
		}
	}
	return errors.Mark(errors.Wrap(err, "failed to save record"), ErrPersistence)
}

// skipped records a duplicate left alone under PolicySkip. The row error
// points at the unique columns so the file can be corrected.
func skipped(line int, schema *ColumnSchema, row TypedRow) Outcome {
	reason := duplicateError(schema, row).Error()
	return Outcome{Row: line, Kind: OutcomeSkipped, Reason: reason, Errors: []RowError{{
		Row:     line,
		Type:    KindDuplicate,
		Column:  uniqueHeaders(schema),
		Message: reason,
		Action:  "Row was skipped; enable update existing to overwrite the stored record",
	}}}
}

func rejected(line int, err error) Outcome {
	return Outcome{Row: line, Kind: OutcomeRejected, Errors: []RowError{newRowError(line, err)}}
}
