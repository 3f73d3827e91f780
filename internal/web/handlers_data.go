package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/report"
)

// exportFunc is Engine.Export or Engine.ExportPDF.
type exportFunc func(*http.Request, string, report.ExportRequest) (*application.File, report.Summary, error)

// handleExport downloads the matching records as a workbook.
//
// Query parameters:
//
//	filter[<field>]=<op>:<value>   repeatable; ops eq neq contains starts ends gt gte lt lte in
//	search=<text>                  matched against the entity's search fields
//	sort=<field>&order=asc|desc
//	limit=<n>                      0 uses the server default
//	summary=true|false             adds the summary sheet (default true)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, func(r *http.Request, entity string, req report.ExportRequest) (*application.File, report.Summary, error) {
		return s.engine.Export(r.Context(), entity, req)
	})
}

// handleExportPDF is handleExport rendered as a PDF report.
func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, func(r *http.Request, entity string, req report.ExportRequest) (*application.File, report.Summary, error) {
		return s.engine.ExportPDF(r.Context(), entity, req)
	})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, fn exportFunc) {
	req, err := parseExportRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	f, sum, err := fn(r, chi.URLParam(r, "entity"), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Records", strconv.Itoa(sum.Total))
	w.Header().Set("X-Matching-Records", strconv.Itoa(sum.Matching))
	writeFile(w, f)
}
