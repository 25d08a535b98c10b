package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/art-injener/starpass/internal/config"
	"github.com/art-injener/starpass/internal/report"
	"github.com/art-injener/starpass/internal/tracker"
)

const (
	issLine1    = "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9997"
	issLine2    = "2 25544  51.6400 247.4627 0006703 130.5360 325.0288 15.49815571423401"
	meteorLine1 = "1 40069U 14037A   24001.50000000  .00000123  00000-0  12345-4 0  9991"
	meteorLine2 = "2 40069  98.5200  45.6789 0001234 123.4567 236.7890 14.20987654321098"
)

var testNow = time.Date(2024, time.January, 1, 14, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeCatalog каталог в памяти, считает обращения к ленте.
type fakeCatalog struct {
	records     []tracker.SatelliteRecord
	recordCalls atomic.Int32
	gate        chan struct{} // Если задан, Records ждёт его закрытия.
}

func (f *fakeCatalog) Records() []tracker.SatelliteRecord {
	f.recordCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.records
}

func (f *fakeCatalog) Get(noradID int) (tracker.SatelliteRecord, bool) {
	for _, r := range f.records {
		if r.NoradID() == noradID {
			return r, true
		}
	}
	return tracker.SatelliteRecord{}, false
}

func (f *fakeCatalog) GetByName(name string) []tracker.SatelliteRecord {
	var out []tracker.SatelliteRecord
	for _, r := range f.records {
		if strings.Contains(strings.ToLower(r.Name), strings.ToLower(name)) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeCatalog) Count() int { return len(f.records) }

func newCatalog() *fakeCatalog {
	return &fakeCatalog{records: []tracker.SatelliteRecord{
		{Name: "ISS (ZARYA)", Line1: issLine1, Line2: issLine2},
		{Name: "METEOR-M2", Line1: meteorLine1, Line2: meteorLine2},
		{Name: "BROKEN", Line1: "1 11111U 24001.5", Line2: "2 11111"},
	}}
}

func newTestAPI(catalog Catalog) *API {
	cfg := config.Default()
	agg := tracker.NewAggregator(tracker.WithWorkers(2), tracker.WithAggregatorLogger(discardLogger()))
	return NewAPI(catalog, agg, cfg,
		WithAPILogger(discardLogger()),
		WithAPIClock(func() time.Time { return testNow }),
	)
}

func newTestRouter(t *testing.T, api *API) *gin.Engine {
	t.Helper()

	pages, err := NewPageHandler(api, "", false, discardLogger())
	if err != nil {
		t.Fatalf("NewPageHandler() error = %v", err)
	}
	return NewRouter(api, pages, api.cfg.Server, discardLogger())
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	rec := doGet(t, r, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["satellites"] != float64(3) {
		t.Errorf("body = %v", body)
	}

	empty := newTestRouter(t, newTestAPI(&fakeCatalog{}))
	if rec := doGet(t, empty, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("empty catalog status = %d, want 503", rec.Code)
	}
}

func TestPasses(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	rec := doGet(t, r, "/api/v1/passes?lat=51.5&lon=-0.12&max_distance=1500&hours=6&step=60&tz=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["generated_at"] != "2024-01-01T14:00:00Z" {
		t.Errorf("generated_at = %v", body["generated_at"])
	}

	observer := body["observer"].(map[string]any)
	if observer["latitude"] != 51.5 || observer["location_name"] != "Custom Location" {
		t.Errorf("observer = %v", observer)
	}

	params := body["parameters"].(map[string]any)
	if params["max_distance_km"] != float64(1500) || params["hours_ahead"] != float64(6) {
		t.Errorf("parameters = %v", params)
	}

	passes, ok := body["passes"].([]any)
	if !ok {
		t.Fatalf("passes = %T, want array", body["passes"])
	}
	if body["total_passes"] != float64(len(passes)) {
		t.Errorf("total_passes = %v, len(passes) = %d", body["total_passes"], len(passes))
	}
}

func TestPasses_DefaultObserver(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	rec := doGet(t, r, "/api/v1/passes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	observer := decodeBody(t, rec)["observer"].(map[string]any)
	if observer["location_name"] != config.DefaultLocationName {
		t.Errorf("location_name = %v, want %q", observer["location_name"], config.DefaultLocationName)
	}
}

func TestPasses_BadQuery(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	for _, query := range []string{
		"lat=abc",
		"lat=95",
		"lon=-181",
		"max_distance=0",
		"hours=0",
		"hours=100",
		"step=abc",
		"step=0",
		"step=1",
		"step=9",
		"tz=15",
		"tz=x",
		"lat=NaN",
	} {
		t.Run(query, func(t *testing.T) {
			rec := doGet(t, r, "/api/v1/passes?"+query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, ErrBadQuery.Error()) {
				t.Errorf("error = %q", msg)
			}
		})
	}
}

// TestPasses_MinStep шаг на границе server.min_step принимается.
func TestPasses_MinStep(t *testing.T) {
	api := newTestAPI(newCatalog())
	r := newTestRouter(t, api)

	step := int(api.cfg.Server.MinStep / time.Second)
	rec := doGet(t, r, fmt.Sprintf("/api/v1/passes?hours=1&step=%d", step))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doGet(t, r, fmt.Sprintf("/api/v1/passes?hours=1&step=%d", step-1))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestDocument_Cache повторный запрос в пределах refresh_every не пересчитывается.
func TestDocument_Cache(t *testing.T) {
	catalog := newCatalog()
	api := newTestAPI(catalog)
	q := api.DefaultQuery()
	q.HoursAhead = 2

	first, err := api.Document(context.Background(), q)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	second, err := api.Document(context.Background(), q)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	if first != second {
		t.Error("second Document() was recomputed")
	}
	if n := catalog.recordCalls.Load(); n != 1 {
		t.Errorf("Records() calls = %d, want 1", n)
	}

	// Другой запрос считается отдельно.
	q.TZ = 3
	if _, err := api.Document(context.Background(), q); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if n := catalog.recordCalls.Load(); n != 2 {
		t.Errorf("Records() calls = %d, want 2", n)
	}
}

func TestDocument_CacheExpires(t *testing.T) {
	catalog := newCatalog()
	api := newTestAPI(catalog)
	now := testNow
	api.now = func() time.Time { return now }

	q := api.DefaultQuery()
	q.HoursAhead = 1

	if _, err := api.Document(context.Background(), q); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	now = now.Add(api.cfg.Server.RefreshEvery)
	if _, err := api.Document(context.Background(), q); err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	if n := catalog.recordCalls.Load(); n != 2 {
		t.Errorf("Records() calls = %d, want 2", n)
	}
	if len(api.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(api.cache))
	}
}

// TestDocument_ConcurrentMissesShareComputation одновременные промахи по одному
// ключу дают один расчёт и один документ.
func TestDocument_ConcurrentMissesShareComputation(t *testing.T) {
	catalog := newCatalog()
	catalog.gate = make(chan struct{})
	api := newTestAPI(catalog)
	q := api.DefaultQuery()
	q.HoursAhead = 1

	const callers = 8
	docs := make([]*report.Document, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs[i], errs[i] = api.Document(context.Background(), q)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(catalog.gate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("Document() #%d error = %v", i, errs[i])
		}
		if docs[i] != docs[0] {
			t.Errorf("Document() #%d returned a separate document", i)
		}
	}
	if n := catalog.recordCalls.Load(); n != 1 {
		t.Errorf("Records() calls = %d, want 1", n)
	}
}

// TestDocument_Cancelled прерванный расчёт не отдаётся и не кешируется.
func TestDocument_Cancelled(t *testing.T) {
	api := newTestAPI(newCatalog())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := api.Document(ctx, api.DefaultQuery()); !errors.Is(err, context.Canceled) {
		t.Errorf("Document() error = %v, want context.Canceled", err)
	}
	if len(api.cache) != 0 {
		t.Errorf("cache size = %d, want 0", len(api.cache))
	}
}

func TestSatellites(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	tests := []struct {
		query      string
		wantStatus int
		wantCount  float64
		wantTotal  float64
	}{
		{"", http.StatusOK, 3, 3},
		{"?limit=1", http.StatusOK, 1, 3},
		{"?name=iss", http.StatusOK, 1, 1},
		{"?name=nothing", http.StatusOK, 0, 0},
		{"?limit=0", http.StatusBadRequest, 0, 0},
		{"?limit=x", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := doGet(t, r, "/api/v1/satellites"+tt.query)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			body := decodeBody(t, rec)
			if body["count"] != tt.wantCount || body["total"] != tt.wantTotal {
				t.Errorf("count/total = %v/%v, want %v/%v", body["count"], body["total"], tt.wantCount, tt.wantTotal)
			}
		})
	}
}

func TestSatellites_Fields(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	body := decodeBody(t, doGet(t, r, "/api/v1/satellites?name=meteor"))
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("data = %v", data)
	}

	sat := data[0].(map[string]any)
	if sat["norad_id"] != float64(40069) || sat["line1"] != meteorLine1 || sat["line2"] != meteorLine2 {
		t.Errorf("satellite = %v", sat)
	}
}

func TestTrack(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	rec := doGet(t, r, "/api/v1/satellites/25544/track")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["name"] != "ISS (ZARYA)" {
		t.Errorf("name = %v", body["name"])
	}

	data := body["data"].(map[string]any)
	if data["norad_id"] != float64(25544) {
		t.Errorf("norad_id = %v", data["norad_id"])
	}
	past, _ := data["past"].([]any)
	future, _ := data["future"].([]any)
	if len(past) == 0 || len(future) == 0 {
		t.Errorf("past/future segments = %d/%d, want both non-empty", len(past), len(future))
	}
}

func TestTrack_Errors(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/satellites/abc/track", http.StatusBadRequest},
		{"/api/v1/satellites/-5/track", http.StatusBadRequest},
		{"/api/v1/satellites/99999/track", http.StatusNotFound},
		{"/api/v1/satellites/11111/track", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := doGet(t, r, tt.path); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSConfig(t *testing.T) {
	if cfg := corsConfig(nil); !cfg.AllowAllOrigins {
		t.Error("corsConfig(nil) should allow all origins")
	}
	if cfg := corsConfig([]string{"https://a.example", "*"}); !cfg.AllowAllOrigins {
		t.Error("corsConfig with * should allow all origins")
	}

	cfg := corsConfig([]string{"https://a.example"})
	if cfg.AllowAllOrigins || len(cfg.AllowOrigins) != 1 {
		t.Errorf("corsConfig() = %+v", cfg)
	}
}

func TestPage(t *testing.T) {
	r := newTestRouter(t, newTestAPI(newCatalog()))

	rec := doGet(t, r, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"<title>Upcoming passes - starpass</title>", config.DefaultLocationName, "62.2426"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

// failingSource источник, который всегда отказывает.
type failingSource struct{}

func (failingSource) Document(context.Context, PassQuery) (*report.Document, error) {
	return nil, errors.New("no elements")
}

func (failingSource) DefaultQuery() PassQuery { return PassQuery{} }

func TestPage_SourceError(t *testing.T) {
	pages, err := NewPageHandler(failingSource{}, "", false, discardLogger())
	if err != nil {
		t.Fatalf("NewPageHandler() error = %v", err)
	}

	r := gin.New()
	r.GET("/", pages.Passes)

	rec := doGet(t, r, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Pass prediction is not available right now.") {
		t.Errorf("page does not show the error:\n%s", rec.Body.String())
	}
}

// TestPage_DevTemplates в dev-режиме шаблон перечитывается с диска.
func TestPage_DevTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "passes.html")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	write(`{{define "passes.html"}}v1 {{.Title}}{{end}}`)
	pages, err := NewPageHandler(failingSource{}, dir, true, discardLogger())
	if err != nil {
		t.Fatalf("NewPageHandler() error = %v", err)
	}

	r := gin.New()
	r.GET("/", pages.Passes)

	if body := doGet(t, r, "/").Body.String(); body != "v1 Upcoming passes - starpass" {
		t.Errorf("body = %q", body)
	}

	write(`{{define "passes.html"}}v2{{end}}`)
	if body := doGet(t, r, "/").Body.String(); body != "v2" {
		t.Errorf("body after edit = %q", body)
	}
}

func TestNewPageHandler_MissingDevDir(t *testing.T) {
	_, err := NewPageHandler(failingSource{}, filepath.Join(t.TempDir(), "none"), true, discardLogger())
	if err == nil {
		t.Error("NewPageHandler() expected error for empty template dir")
	}
}
