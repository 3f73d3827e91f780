package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleHealth reports whether the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.engine.Ping(ctx); err != nil {
		respondErrorStatus(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"entities": s.engine.Registry().Len(),
		"imports":  s.engine.LimiterStatus(),
	})
}

// handleListEntities returns every registered entity with its record count.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.engine.Entities(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

// handleEntity returns one entity's metadata.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	meta, err := s.engine.Entity(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleImportQueue returns the state of the import limiter.
func (s *Server) handleImportQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LimiterStatus())
}
