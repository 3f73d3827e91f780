package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/resultlog"
	"github.com/JonMunkholm/sheetport/internal/schema"
	"github.com/JonMunkholm/sheetport/internal/store"
	"github.com/JonMunkholm/sheetport/internal/store/memstore"
)

type testServer struct {
	srv   *Server
	store *memstore.Store
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: time.Minute},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
		Export:   config.ExportConfig{DefaultLimit: 100, MaxLimit: 1000},
		Security: config.SecurityConfig{ActorHeader: "X-Actor"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, results *resultlog.Log) *testServer {
	t.Helper()
	reg, err := schema.NewRegistry("")
	require.NoError(t, err)
	st := memstore.New()
	engine := application.New(st, reg, application.Options{
		Import:    cfg.Import,
		Export:    cfg.Export,
		ResultLog: results,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := NewServer(engine, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, store: st}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func uploadRequest(t *testing.T, path, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) template(t *testing.T, entity string) []byte {
	t.Helper()
	rec := ts.get("/api/entities/" + entity + "/template")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec.Body.Bytes()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type importBody struct {
	ImportID     string `json:"importId"`
	SuccessCount int    `json:"successCount"`
	FailedCount  int    `json:"failedCount"`
	Skipped      int    `json:"skipped"`
	Rejected     int    `json:"rejected"`
	Duration     string `json:"duration"`
}

func TestHealthAndEntities(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec := ts.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = ts.get("/api/entities")
	require.Equal(t, http.StatusOK, rec.Code)
	ents := decode[[]application.EntityMetadata](t, rec)
	assert.Len(t, ents, 4)

	rec = ts.get("/api/entities/zones")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zones", decode[application.EntityMetadata](t, rec).Name)

	rec = ts.get("/api/entities/racks")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ENT001", decode[ErrorResponse](t, rec).Code)

	rec = ts.get("/api/entities/racks/template")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplateDownload(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec := ts.get("/api/entities/zones/template?samples=false")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "zones_template.xlsx")
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rec = ts.get("/api/entities/zones/template?samples=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportAndDuplicatePolicies(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	data := ts.template(t, "zones")

	rec := ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", data, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[importBody](t, rec)
	assert.Equal(t, 2, first.SuccessCount)
	assert.NotEmpty(t, first.ImportID)
	assert.NotEmpty(t, first.Duration)

	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", data, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[importBody](t, rec)
	assert.Equal(t, 2, again.Rejected)
	assert.Equal(t, 2, again.FailedCount)

	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", data, map[string]string{"skipDuplicates": "yes"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[importBody](t, rec).Skipped)

	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", data, map[string]string{"batchSize": "many"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_StampsActor(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	req := uploadRequest(t, "/api/entities/categories/import", "categories.xlsx", ts.template(t, "categories"), nil)
	req.Header.Set("X-Actor", "jane")
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	recs, err := ts.store.Find(context.Background(), "categories", store.Query{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.Equal(t, "jane", r.CreatedBy)
	}
}

func TestImport_Errors(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec := ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.csv", []byte("Nope\nx\n"), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FILE004", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ004", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(uploadRequest(t, "/api/entities/racks/import", "racks.csv", []byte("a\n1\n"), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	big := bytes.Repeat([]byte("x"), 3<<20)
	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.csv", big, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)
}

func TestImport_EventStream(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	req := uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", ts.template(t, "zones"), nil)
	req.Header.Set("Accept", "text/event-stream")

	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: result")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "}"))
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: result"))
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	csv := "Zone Name,Region\nAlpine,West\nAlpine,West\n,North\n"

	rec := ts.do(uploadRequest(t, "/api/entities/zones/preview", "zones.csv", []byte(csv), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		TotalRows       int `json:"totalRows"`
		ValidRows       int `json:"validRows"`
		InvalidRows     int `json:"invalidRows"`
		DuplicateInFile int `json:"duplicateInFile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, 1, got.InvalidRows)
	assert.Equal(t, 1, got.DuplicateInFile)

	n, err := ts.store.Count(context.Background(), "zones", store.Query{})
	require.NoError(t, err)
	assert.Zero(t, n, "preview must not write")
}

func TestExportEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", ts.template(t, "zones"), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.get("/api/entities/zones/export?filter[region]=eq:West&sort=name&order=desc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Total-Records"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "zones_export_")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Zones")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1], "Pacific Northwest")

	rec = ts.get("/api/entities/zones/export.pdf?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Total-Records"))
	assert.Equal(t, "2", rec.Header().Get("X-Matching-Records"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"bad sort field", "sort=Bad-Field", "REQ001"},
		{"bad filter field", "filter[Name%20x]=eq:a", "REQ001"},
		{"bad order", "order=sideways", "REQ003"},
		{"bad limit", "limit=-4", "REQ003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get("/api/entities/zones/export?" + tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestImportResultLookup(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	rec := ts.get("/api/imports/abc")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "IMP004", decode[ErrorResponse](t, rec).Code)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ts = newTestServer(t, testConfig(), resultlog.New(rdb, "test", time.Hour))

	rec = ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", ts.template(t, "zones"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[importBody](t, rec).ImportID

	rec = ts.get("/api/imports/" + id)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[resultlog.Entry](t, rec)
	assert.Equal(t, 2, entry.SuccessCount)

	rec = ts.get("/api/imports/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP003", decode[ErrorResponse](t, rec).Code)
}

func TestImportRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 1}
	ts := newTestServer(t, cfg, nil)
	csv := []byte("Zone Name,Region\nAlpine,West\n")

	rec := ts.do(uploadRequest(t, "/api/entities/zones/preview", "z.csv", csv, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(uploadRequest(t, "/api/entities/zones/preview", "z.csv", csv, nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)

	// Reads draw from the general budget.
	assert.Equal(t, http.StatusOK, ts.get("/api/entities").Code)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	ts := newTestServer(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, ts.get("/api/entities").Code)
	assert.Equal(t, http.StatusOK, ts.get("/healthz").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(uploadRequest(t, "/api/entities/zones/import", "zones.xlsx", ts.template(t, "zones"), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sheetport_imports_total{entity="zones",result="ok"} 1`)
}
