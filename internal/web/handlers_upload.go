package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetport/internal/core"
)

// importResponse renders durations as text.
type importResponse struct {
	*core.ImportResult
	Duration string `json:"duration"`
}

func toResponse(res *core.ImportResult) importResponse {
	return importResponse{ImportResult: res, Duration: res.Duration.String()}
}

// handlePreview analyses an upload and reports what an import would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	name, data, err := readUpload(w, r, s.cfg.Import.MaxFileSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.engine.Preview(r.Context(), entity, name, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseImportOptions reads the import flags from the form.
func parseImportOptions(r *http.Request) (core.ImportOptions, error) {
	var (
		opts core.ImportOptions
		err  error
	)
	if opts.SkipDuplicates, err = parseBool("skipDuplicates", r.FormValue("skipDuplicates"), false); err != nil {
		return opts, err
	}
	if opts.UpdateExisting, err = parseBool("updateExisting", r.FormValue("updateExisting"), false); err != nil {
		return opts, err
	}
	if opts.Strict, err = parseBool("strict", r.FormValue("strict"), false); err != nil {
		return opts, err
	}
	if v := r.FormValue("batchSize"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return opts, badRequest(errors.Newf("invalid query parameter %q: %q", "batchSize", v))
		}
		opts.BatchSize = n
	}
	return opts, nil
}

// handleImport imports an upload. Form fields skipDuplicates,
// updateExisting, strict and batchSize set the options.
//
// Clients sending "Accept: text/event-stream" receive progress events as
// the import runs, then a single "result" (or "error") event.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, err := s.engine.Registry().Get(entity); err != nil {
		respondError(w, r, err)
		return
	}

	name, data, err := readUpload(w, r, s.cfg.Import.MaxFileSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	opts, err := parseImportOptions(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := withRequestMetadata(r.Context(), r)
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamImport(ctx, w, r, entity, name, data, opts)
		return
	}

	result, err := s.engine.Import(ctx, entity, name, data, opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(result))
}

// streamImport runs the import while writing Server-Sent Events. The event
// ID is the number of rows processed so far.
func (s *Server) streamImport(ctx context.Context, w http.ResponseWriter, r *http.Request, entity, name string, data []byte, opts core.ImportOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorStatus(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(id int, event string, v any) {
		payload, _ := json.Marshal(v)
		if id >= 0 {
			fmt.Fprintf(w, "id: %d\n", id)
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	opts.Progress = func(p core.ImportProgress) {
		send(p.Processed, "progress", p)
	}

	result, err := s.engine.Import(ctx, entity, name, data, opts)
	if err != nil {
		msg := core.MapError(err)
		send(-1, "error", ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}
	send(result.TotalRows, "result", toResponse(result))
}

// handleImportResult returns a published import result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.ImportResult(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
