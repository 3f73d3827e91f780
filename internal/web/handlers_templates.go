package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetport/internal/application"
)

// handleTemplate downloads the import workbook for an entity. Sample rows
// are included unless ?samples=false.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	samples, err := parseBool("samples", r.URL.Query().Get("samples"), true)
	if err != nil {
		respondError(w, r, err)
		return
	}

	f, err := s.engine.Template(r.Context(), chi.URLParam(r, "entity"), samples)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeFile(w, f)
}

// writeFile sends f as an attachment.
func writeFile(w http.ResponseWriter, f *application.File) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}
