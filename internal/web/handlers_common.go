package web

// handlers_common.go holds request parsing shared by the handlers.

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/report"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// multipartOverhead is allowed on top of the file size for form boundaries
// and the other fields.
const multipartOverhead = 1 << 20

// parseIntParam parses a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, badRequest(errors.Newf("invalid query parameter %q: %q", name, val))
	}
	return i, nil
}

// parseBool reads a boolean from a form or query value; empty means defaultVal.
func parseBool(name, val string, defaultVal bool) (bool, error) {
	if val == "" {
		return defaultVal, nil
	}
	switch strings.ToLower(val) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, badRequest(errors.Newf("invalid query parameter %q: %q", name, val))
	}
	return b, nil
}

// parseFilters reads filter[field]=op:value parameters. Keys are taken in
// sorted order so the export summary describes filters deterministically.
func parseFilters(r *http.Request) ([]store.Filter, error) {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for key := range q {
		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var filters []store.Filter
	for _, key := range keys {
		field := key[len("filter[") : len(key)-1]
		for _, expr := range q[key] {
			if expr == "" {
				continue
			}
			f, err := store.ParseFilter(field, expr)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// parseExportRequest reads filters, search, sort, order, limit and summary.
func parseExportRequest(r *http.Request) (report.ExportRequest, error) {
	filters, err := parseFilters(r)
	if err != nil {
		return report.ExportRequest{}, err
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		return report.ExportRequest{}, err
	}
	q := r.URL.Query()
	summary, err := parseBool("summary", q.Get("summary"), true)
	if err != nil {
		return report.ExportRequest{}, err
	}

	req := report.ExportRequest{
		Filters:        filters,
		Search:         strings.TrimSpace(q.Get("search")),
		SortField:      q.Get("sort"),
		Limit:          limit,
		IncludeSummary: summary,
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		req.SortDesc = true
	default:
		return report.ExportRequest{}, badRequest(errors.Newf("invalid query parameter %q: %q", "order", q.Get("order")))
	}
	return req, nil
}

// readUpload reads the "file" form field, refusing bodies over maxSize.
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, errors.Mark(
				errors.Newf("file too large: exceeds the %d byte limit", maxSize),
				errTooLarge,
			)
		}
		return "", nil, badRequest(errors.Wrap(err, "invalid multipart form"))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, badRequest(errors.New("no file provided"))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, errors.Wrap(err, "read upload")
	}
	return header.Filename, data, nil
}
