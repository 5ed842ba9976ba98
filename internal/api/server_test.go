package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gokpi/app"
	"gokpi/domain/metric"
	"gokpi/internal/config"
	"gokpi/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog struct {
	cat *metric.Catalog
}

func (s staticCatalog) LoadCatalog(ctx context.Context) (*metric.Catalog, error) {
	return s.cat, nil
}

func testServer(t *testing.T, cfg config.ServerConfig) (*Server, *metrics.Recorder) {
	t.Helper()
	cat, err := metric.NewCatalog([]metric.Definition{
		{Name: "Revenue", Placeholders: []string{"Revenue"}, Formula: `sum("Revenue")`},
		{Name: "Orders", Placeholders: []string{"Order ID"}, Formula: `count("Order ID")`},
		{Name: "AOV", Formula: `kpis['Revenue'] / kpis['Orders']`},
	})
	require.NoError(t, err)
	rec := metrics.NewRecorder()
	cfg.GinMode = "test"
	srv := NewServer(cfg, Deps{
		KPI:      app.NewKPIService(app.ServiceOptions{Recorder: rec}),
		Reports:  app.NewReportService(nil),
		Catalog:  staticCatalog{cat: cat},
		Recorder: rec,
	})
	return srv, rec
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var ordersTable = map[string]interface{}{
	"name":    "orders",
	"headers": []string{"Order Date", "Revenue", "Order ID"},
	"rows": [][]string{
		{"2024-01-05", "60", "1"},
		{"2024-01-20", "40", "2"},
		{"2024-02-10", "120", "3"},
		{"2024-03-20", "60", "4"},
	},
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCatalogMetric(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})

	rec := do(t, srv, http.MethodGet, "/api/catalog/AOV", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `kpis['Revenue'] / kpis['Orders']`, decode(t, rec)["formula"])

	rec = do(t, srv, http.MethodGet, "/api/catalog/Churn", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Contains(t, body["error"], `metric "Churn" not found`)
}

func TestEvaluate(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/evaluate", map[string]interface{}{
		"dataset":     ordersTable,
		"granularity": "monthly",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var bundle app.ResultBundle
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bundle))
	assert.Equal(t, "orders", bundle.Dataset)
	require.Len(t, bundle.Periods, 3)
	r, ok := bundle.Result("AOV", "2024-01")
	require.True(t, ok)
	require.NotNil(t, r.Value)
	assert.Equal(t, 50.0, *r.Value)

	scrape := httptest.NewRecorder()
	srv.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `gokpi_http_requests_total{route="/api/evaluate",status="200"} 1`)
	assert.Contains(t, scrape.Body.String(), `gokpi_evaluation_runs_total{outcome="complete"} 1`)
}

func TestEvaluate_BadRequests(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})

	resp := do(t, srv, http.MethodPost, "/api/evaluate", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, resp)["code"])

	resp = do(t, srv, http.MethodPost, "/api/evaluate", map[string]interface{}{
		"dataset":     ordersTable,
		"granularity": "hourly",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, srv, http.MethodPost, "/api/evaluate", map[string]interface{}{
		"dataset":   ordersTable,
		"overrides": []map[string]string{{"name": "Broken"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "CATALOG_INVALID", decode(t, resp)["code"])
}

func TestEvaluateBatch(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/evaluate/batch", map[string]interface{}{
		"requests": []map[string]interface{}{
			{"dataset": ordersTable},
			{"dataset": ordersTable, "date_column": "Shipped"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	items := decode(t, resp)["items"].([]interface{})
	require.Len(t, items, 2)
	assert.NotNil(t, items[0].(map[string]interface{})["bundle"])
	assert.Contains(t, items[1].(map[string]interface{})["error"], "request 1")
}

func TestEvaluateUpload(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "q1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Order Date,Revenue,Order ID\n2024-01-05,60,1\n2024-02-10,120,2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("options", `{"metrics":["Revenue"],"granularity":"none"}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/evaluate/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var bundle app.ResultBundle
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bundle))
	assert.Equal(t, "q1", bundle.Dataset)
	r, ok := bundle.Result("Revenue", "all")
	require.True(t, ok)
	assert.Equal(t, 180.0, *r.Value)
}

func TestEvaluateUpload_RejectsOtherFiles(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = fw.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/evaluate/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestReport(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/report", map[string]interface{}{"dataset": ordersTable})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	report := decode(t, resp)["report"].(map[string]interface{})
	assert.Contains(t, report["markdown"], "| 2024-01 | 100 | 2 | 50 |")
	assert.Contains(t, report["html"], "<table>")

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{"dataset": ordersTable}))
	req := httptest.NewRequest(http.MethodPost, "/api/report", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/html")
	html := httptest.NewRecorder()
	srv.Handler().ServeHTTP(html, req)
	assert.Equal(t, http.StatusOK, html.Code)
	assert.True(t, strings.HasPrefix(html.Header().Get("Content-Type"), "text/html"))
}

func TestCustomMetrics(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/custom-metrics", map[string]interface{}{
		"dataset": ordersTable,
		"metrics": []map[string]string{
			{"name": "Avg", "formula": `sum("Revenue") / count("Order ID")`},
			{"name": "Bad", "formula": `sum("Nope")`},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	results := decode(t, resp)["results"].([]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, 70.0, results[0].(map[string]interface{})["value"])
	assert.Equal(t, "UnknownColumn", results[1].(map[string]interface{})["error_kind"])
}

func TestValidateFormulaAndColumns(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/custom-metrics/validate", map[string]interface{}{
		"dataset": ordersTable,
		"formula": `sum("Order Date")`,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	out := decode(t, resp)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "NonNumericColumn", out["error_kind"])

	resp = do(t, srv, http.MethodPost, "/api/custom-metrics/columns", map[string]interface{}{"dataset": ordersTable})
	require.Equal(t, http.StatusOK, resp.Code)
	cols := decode(t, resp)
	assert.Contains(t, cols["numeric"], "Revenue")
	assert.NotContains(t, cols["countable"], "Order Date")

	resp = do(t, srv, http.MethodGet, "/api/custom-metrics/templates", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode(t, resp)["templates"], 5)
}

func TestTrend(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{})
	resp := do(t, srv, http.MethodPost, "/api/trend", map[string]interface{}{
		"metric": "Revenue",
		"points": []map[string]interface{}{
			{"period": "2024-01", "value": 100},
			{"period": "2024-02", "value": nil},
			{"period": "2024-03", "value": 60},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	out := decode(t, resp)
	assert.Equal(t, "down", out["direction"])
	assert.Equal(t, -40.0, out["change_pct"])
	assert.EqualValues(t, 2, out["points"])
}

func TestRateLimit(t *testing.T) {
	srv, _ := testServer(t, config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})
	first := do(t, srv, http.MethodGet, "/api/custom-metrics/templates", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	second := do(t, srv, http.MethodGet, "/api/custom-metrics/templates", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	health := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, health.Code, "health is outside the limited group")
}
