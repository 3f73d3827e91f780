// Package metrics exposes import and export counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/sheetport/internal/core"
)

// Metrics holds the collectors of one engine on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	imports         *prometheus.CounterVec
	rows            *prometheus.CounterVec
	importDuration  *prometheus.HistogramVec
	exports         *prometheus.CounterVec
	exportRows      *prometheus.CounterVec
	limiterRejected prometheus.Counter
	importsInFlight prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// imports counts finished imports by entity and result
		// (ok, partial, failed, cancelled).
		imports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetport_imports_total",
				Help: "Finished imports by entity and result",
			},
			[]string{"entity", "result"},
		),

		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetport_import_rows_total",
				Help: "Imported rows by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),

		importDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sheetport_import_duration_seconds",
				Help:    "Wall time of imports",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"entity"},
		),

		exports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetport_exports_total",
				Help: "Rendered exports by entity and format",
			},
			[]string{"entity", "format"},
		),

		exportRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetport_export_rows_total",
				Help: "Rows written to exports by entity",
			},
			[]string{"entity"},
		),

		limiterRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "sheetport_import_limiter_rejected_total",
			Help: "Imports refused because no slot became free in time",
		}),

		importsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "sheetport_imports_in_flight",
			Help: "Imports currently holding a limiter slot",
		}),
	}
}

// ImportStarted marks an import as running; call the returned func when it ends.
func (m *Metrics) ImportStarted() func() {
	m.importsInFlight.Inc()
	return m.importsInFlight.Dec
}

// ObserveImport records a finished import.
func (m *Metrics) ObserveImport(res *core.ImportResult) {
	m.imports.WithLabelValues(res.Entity, importResult(res)).Inc()
	for kind, n := range map[core.OutcomeKind]int{
		core.OutcomeCreated:  res.Created,
		core.OutcomeUpdated:  res.Updated,
		core.OutcomeSkipped:  res.Skipped,
		core.OutcomeRejected: res.Rejected,
	} {
		if n > 0 {
			m.rows.WithLabelValues(res.Entity, string(kind)).Add(float64(n))
		}
	}
	m.importDuration.WithLabelValues(res.Entity).Observe(res.Duration.Seconds())
}

// ObserveImportError records an import that failed before any row ran.
func (m *Metrics) ObserveImportError(entity string, elapsed time.Duration) {
	m.imports.WithLabelValues(entity, "failed").Inc()
	m.importDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

func importResult(res *core.ImportResult) string {
	switch {
	case res.Cancelled:
		return "cancelled"
	case res.FailedCount == 0:
		return "ok"
	case res.SuccessCount == 0:
		return "failed"
	}
	return "partial"
}

// ObserveExport records a rendered export.
func (m *Metrics) ObserveExport(entity, format string, rows int) {
	m.exports.WithLabelValues(entity, format).Inc()
	m.exportRows.WithLabelValues(entity).Add(float64(rows))
}

// LimiterRejected counts an import turned away by the upload limiter.
func (m *Metrics) LimiterRejected() {
	m.limiterRejected.Inc()
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
