// Package application wires the registry, store, importer and exporters
// into the operations the HTTP server and the CLI expose.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/logging"
	"github.com/JonMunkholm/sheetport/internal/metrics"
	"github.com/JonMunkholm/sheetport/internal/report"
	"github.com/JonMunkholm/sheetport/internal/resultlog"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// ErrResultLogDisabled is returned by ImportResult when no result log is configured.
var ErrResultLogDisabled = errors.New("import result log is disabled")

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	pdfContentType  = "application/pdf"

	fileStamp      = "20060102_150405"
	publishTimeout = 5 * time.Second
)

// File is a rendered download.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ColumnMeta describes one column for clients building their own forms.
type ColumnMeta struct {
	Key         string   `json:"key"`
	Header      string   `json:"header"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Unique      bool     `json:"unique,omitempty"`
	References  string   `json:"references,omitempty"`
	EnumValues  []string `json:"enumValues,omitempty"`
	Default     *string  `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
}

// EntityMetadata summarises one registered entity.
type EntityMetadata struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"displayName"`
	ColumnCount  int          `json:"columnCount"`
	SearchFields []string     `json:"searchFields"`
	RecordCount  int          `json:"recordCount"`
	Columns      []ColumnMeta `json:"columns"`
}

// Options configure an Engine. Zero values take the defaults.
type Options struct {
	Import    config.ImportConfig
	Export    config.ExportConfig
	ResultLog *resultlog.Log // nil disables result publishing
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the application facade.
type Engine struct {
	registry *core.Registry
	store    store.Store
	importer *core.Importer
	exporter *report.Exporter
	limiter  *core.UploadLimiter
	results  *resultlog.Log
	metrics  *metrics.Metrics
	imports  config.ImportConfig
	exports  config.ExportConfig
	logger   *slog.Logger
	now      func() time.Time
}

// New builds an engine over st serving the entities in reg.
func New(st store.Store, reg *core.Registry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ic := opts.Import
	return &Engine{
		registry: reg,
		store:    st,
		importer: core.NewImporter(st, core.ImporterConfig{
			BatchSize:           ic.BatchSize,
			RowTimeout:          ic.RowTimeout,
			RowConcurrency:      ic.RowConcurrency,
			MaxFileSize:         ic.MaxFileSize,
			MaxHeaderSearchRows: ic.MaxHeaderSearchRows,
		}, opts.Logger),
		exporter: report.NewExporter(st, reg, opts.Logger),
		limiter:  core.NewUploadLimiter(ic.MaxConcurrent, ic.MaxWaitTime),
		results:  opts.ResultLog,
		metrics:  opts.Metrics,
		imports:  ic,
		exports:  opts.Export,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Registry returns the entity registry.
func (e *Engine) Registry() *core.Registry { return e.registry }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// LimiterStatus reports the import limiter's occupancy.
func (e *Engine) LimiterStatus() core.UploadLimiterStatus { return e.limiter.Status() }

// Ping checks that the store answers.
func (e *Engine) Ping(ctx context.Context) error {
	names := e.registry.Names()
	if len(names) == 0 {
		return nil
	}
	_, err := e.store.Count(ctx, names[0], store.Query{Limit: 1})
	return err
}

// Entities lists every registered entity with its current record count.
func (e *Engine) Entities(ctx context.Context) ([]EntityMetadata, error) {
	svcs := e.registry.All()
	out := make([]EntityMetadata, 0, len(svcs))
	for _, svc := range svcs {
		m, err := e.metadata(ctx, svc.Schema())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Entity describes one entity.
func (e *Engine) Entity(ctx context.Context, entity string) (EntityMetadata, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return EntityMetadata{}, err
	}
	return e.metadata(ctx, svc.Schema())
}

func (e *Engine) metadata(ctx context.Context, s *core.ColumnSchema) (EntityMetadata, error) {
	n, err := e.store.Count(ctx, s.Entity, store.Query{})
	if err != nil {
		return EntityMetadata{}, errors.Wrapf(err, "count %s", s.Entity)
	}
	search := s.SearchFields
	if search == nil {
		search = []string{}
	}
	return EntityMetadata{
		Name:         s.Entity,
		DisplayName:  s.DisplayName,
		ColumnCount:  len(s.Columns),
		SearchFields: search,
		RecordCount:  n,
		Columns:      columnMeta(s),
	}, nil
}

func columnMeta(s *core.ColumnSchema) []ColumnMeta {
	unique := make(map[string]bool, len(s.UniqueFields))
	for _, f := range s.UniqueFields {
		unique[f] = true
	}
	meta := make([]ColumnMeta, len(s.Columns))
	for i, c := range s.Columns {
		cm := ColumnMeta{
			Key:         c.Key,
			Header:      c.Header,
			Type:        string(c.Type),
			Required:    c.Required,
			Unique:      unique[c.Key],
			EnumValues:  core.EnumValues(c.Rules),
			Default:     c.Default,
			Description: c.Description,
		}
		if fk, ok := s.ForeignKeyFor(c.Key); ok {
			cm.References = fk.Entity
		}
		meta[i] = cm
	}
	return meta
}

// Template renders the import workbook for entity.
func (e *Engine) Template(ctx context.Context, entity string, samples bool) (*File, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return nil, err
	}
	data, err := report.Template(svc.Schema(), report.TemplateOptions{IncludeSamples: samples})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("template rendered", "entity", entity, "samples", samples, "bytes", len(data))
	return &File{
		Name:        entity + "_template.xlsx",
		ContentType: xlsxContentType,
		Data:        data,
	}, nil
}

// Preview analyses an upload without writing anything.
func (e *Engine) Preview(ctx context.Context, entity, fileName string, data []byte) (*core.PreviewResult, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return nil, err
	}
	return e.importer.Preview(ctx, svc, fileName, data)
}

// Import runs one import under the concurrency limiter and publishes the
// result when a result log is configured.
func (e *Engine) Import(ctx context.Context, entity, fileName string, data []byte, opts core.ImportOptions) (*core.ImportResult, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, core.ErrTooManyImports) {
			e.metrics.LimiterRejected()
		}
		return nil, err
	}
	defer e.limiter.Release()
	defer e.metrics.ImportStarted()()

	if e.imports.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.imports.Timeout)
		defer cancel()
	}

	log := logging.WithFields(ctx, "entity", entity, "file", fileName)
	started := e.now()
	res, err := e.importer.Import(ctx, svc, fileName, data, opts)
	if err != nil {
		e.metrics.ObserveImportError(entity, e.now().Sub(started))
		log.Warn("import rejected", "error", err)
		return nil, err
	}
	e.metrics.ObserveImport(res)
	e.publish(ctx, res)
	return res, nil
}

func (e *Engine) publish(ctx context.Context, res *core.ImportResult) {
	if e.results == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.results.Put(pctx, resultlog.NewEntry(res, core.ActorFromContext(ctx))); err != nil {
		logging.FromContext(ctx).Warn("failed to publish import result",
			"import_id", res.ImportID,
			"error", err,
		)
	}
}

// ImportResult fetches a previously published result.
func (e *Engine) ImportResult(ctx context.Context, importID string) (resultlog.Entry, error) {
	if e.results == nil {
		return resultlog.Entry{}, ErrResultLogDisabled
	}
	return e.results.Get(ctx, importID)
}

func (e *Engine) clamp(req report.ExportRequest) report.ExportRequest {
	if req.Limit <= 0 {
		req.Limit = e.exports.DefaultLimit
	}
	if e.exports.MaxLimit > 0 && req.Limit > e.exports.MaxLimit {
		req.Limit = e.exports.MaxLimit
	}
	return req
}

// Export renders the matching records as a workbook.
func (e *Engine) Export(ctx context.Context, entity string, req report.ExportRequest) (*File, report.Summary, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return nil, report.Summary{}, err
	}
	data, sum, err := e.exporter.XLSX(ctx, svc, e.clamp(req))
	if err != nil {
		return nil, report.Summary{}, err
	}
	e.metrics.ObserveExport(entity, "xlsx", sum.Total)
	return &File{
		Name:        entity + "_export_" + e.now().Format(fileStamp) + ".xlsx",
		ContentType: xlsxContentType,
		Data:        data,
	}, sum, nil
}

// ExportPDF renders the matching records as a printable report.
func (e *Engine) ExportPDF(ctx context.Context, entity string, req report.ExportRequest) (*File, report.Summary, error) {
	svc, err := e.registry.Get(entity)
	if err != nil {
		return nil, report.Summary{}, err
	}
	data, sum, err := e.exporter.PDF(ctx, svc, e.clamp(req))
	if err != nil {
		return nil, report.Summary{}, err
	}
	e.metrics.ObserveExport(entity, "pdf", sum.Total)
	return &File{
		Name:        entity + "_report_" + e.now().Format(fileStamp) + ".pdf",
		ContentType: pdfContentType,
		Data:        data,
	}, sum, nil
}

// WaitForImports blocks until running imports finish or ctx ends.
func (e *Engine) WaitForImports(ctx context.Context) error {
	return e.limiter.WaitForDrain(ctx)
}

// Close releases the store and the result log.
func (e *Engine) Close() error {
	var errs []error
	if e.results != nil {
		errs = append(errs, e.results.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}
