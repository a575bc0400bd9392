package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cpiweights/internal/core"
	"cpiweights/internal/propagator"
	"cpiweights/internal/services"
	"cpiweights/internal/tables/memory"
)

func month(year int, m time.Month) core.Month {
	return core.NewMonth(year, m)
}

// newTestServer serves a small two-category dataset: anchors 60/40 at
// December 2019, indices through February 2020.
func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New(
		[]core.Observation{
			{Category: core.AllItems, Month: month(2019, time.December), Value: 100},
			{Category: core.AllItems, Month: month(2020, time.January), Value: 102},
			{Category: core.AllItems, Month: month(2020, time.February), Value: 104},
			{Category: "Goods", Month: month(2019, time.December), Value: 100},
			{Category: "Goods", Month: month(2020, time.January), Value: 104},
			{Category: "Goods", Month: month(2020, time.February), Value: 106},
			{Category: "Services", Month: month(2019, time.December), Value: 100},
			{Category: "Services", Month: month(2020, time.January), Value: 99},
			{Category: "Services", Month: month(2020, time.February), Value: 101},
		},
		[]core.AnchorWeight{
			{Category: "Goods", Year: 2019, Value: 60},
			{Category: "Services", Year: 2019, Value: 40},
		},
		[]core.CategoryGroup{
			{Category: "Goods", Group: "Goods"},
			{Category: "Services", Group: "Services"},
		},
	)

	rec := services.NewRecomputer(store, store, store, propagator.DefaultConfig())
	s := NewServer(":0", store, rec, 2.0)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, store
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rw := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rw, req)
	return rw
}

func decodeBody[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rw.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rw.Body.String())
	}
	return v
}

func TestGetWeights(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /weights status = %d, body %q", rw.Code, rw.Body.String())
	}

	got := decodeBody[monthWeightsPayload](t, rw)
	if got.Month != "2020-01" || got.AnchorYear != 2019 {
		t.Errorf("month/anchor_year = %s/%d, want 2020-01/2019", got.Month, got.AnchorYear)
	}

	want := map[string]float64{
		core.AllItems: 100,
		"Goods":       60 * 104.0 / 102.0,
		"Services":    40 * 99.0 / 102.0,
	}
	if len(got.Weights) != len(want) {
		t.Fatalf("got %d weights, want %d", len(got.Weights), len(want))
	}
	for _, w := range got.Weights {
		expected, ok := want[w.Category]
		if !ok {
			t.Errorf("unexpected category %q", w.Category)
			continue
		}
		if math.Abs(w.Value-expected) > 1e-9 {
			t.Errorf("%s = %v, want %v", w.Category, w.Value, expected)
		}
	}
	if !got.Coverage.OK {
		t.Errorf("coverage.ok = false, total %v", got.Coverage.Total)
	}
}

func TestGetWeightsParamErrors(t *testing.T) {
	s, _ := newTestServer(t)

	for _, target := range []string{"/weights", "/weights?month=January"} {
		rw := doRequest(s, http.MethodGet, target, "")
		if rw.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rw.Code)
		}
	}
}

func TestGetWeightsNotComputedWithoutRecomputer(t *testing.T) {
	s := NewServer(":0", memory.New(nil, nil, nil), nil, 2.0)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	rw := doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	if rw.Code != http.StatusNotFound {
		t.Errorf("uncomputed month without a recomputer status = %d, want 404 (body %q)",
			rw.Code, rw.Body.String())
	}
}

func TestGetWeightsMissingAllItems(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/weights?month=2021-05", "")
	if rw.Code != http.StatusUnprocessableEntity {
		t.Errorf("month without headline index status = %d, want 422", rw.Code)
	}
}

func TestGetWeightsRange(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/weights/range?from=2019-12&to=2020-02", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /weights/range status = %d, body %q", rw.Code, rw.Body.String())
	}
	got := decodeBody[rangePayload](t, rw)
	if len(got.Months) != 3 {
		t.Fatalf("got %d months, want 3", len(got.Months))
	}
	if got.Months[0].Month != "2019-12" || got.Months[2].Month != "2020-02" {
		t.Errorf("months out of order: %s .. %s", got.Months[0].Month, got.Months[2].Month)
	}

	rw = doRequest(s, http.MethodGet, "/weights/range?from=2020-02&to=2020-01", "")
	if rw.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", rw.Code)
	}

	rw = doRequest(s, http.MethodGet, "/weights/range?from=2000-01&to=2030-01", "")
	if rw.Code != http.StatusBadRequest {
		t.Errorf("oversized range status = %d, want 400", rw.Code)
	}
}

func TestGetCoverage(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/coverage?month=2020-01", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /coverage status = %d", rw.Code)
	}
	got := decodeBody[coveragePayload](t, rw)
	if got.Month != "2020-01" {
		t.Errorf("coverage month = %s, want 2020-01", got.Month)
	}
	if !got.OK {
		t.Errorf("coverage.ok = false, total %v delta %v", got.Total, got.Delta)
	}
	if got.Skipped == nil {
		t.Error("skipped should encode as an empty array, not null")
	}
}

func TestGetCategories(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/categories", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /categories status = %d", rw.Code)
	}
	got := decodeBody[[]groupRow](t, rw)
	if len(got) != 2 {
		t.Fatalf("got %d categories, want 2", len(got))
	}
}

func TestGetRebasedSeries(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/series/rebased?category=Goods&base=2019-12&from=2019-12&to=2020-02", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /series/rebased status = %d, body %q", rw.Code, rw.Body.String())
	}
	got := decodeBody[rebasedSeriesPayload](t, rw)
	if len(got.Observations) != 3 {
		t.Fatalf("got %d observations, want 3", len(got.Observations))
	}
	for _, o := range got.Observations {
		if o.Month == "2019-12" && math.Abs(o.Value-100) > 1e-9 {
			t.Errorf("base month value = %v, want 100", o.Value)
		}
		if o.Month == "2020-01" && math.Abs(o.Value-104) > 1e-9 {
			t.Errorf("2020-01 value = %v, want 104", o.Value)
		}
	}

	rw = doRequest(s, http.MethodGet, "/series/rebased?category=Nope&base=2019-12", "")
	if rw.Code != http.StatusNotFound {
		t.Errorf("unknown category status = %d, want 404", rw.Code)
	}

	rw = doRequest(s, http.MethodGet, "/series/rebased?base=2019-12", "")
	if rw.Code != http.StatusBadRequest {
		t.Errorf("missing category status = %d, want 400", rw.Code)
	}
}

func TestCreateObservation(t *testing.T) {
	s, _ := newTestServer(t)

	// March needs the headline index plus the categories to compute.
	for _, body := range []string{
		`{"category":"All items","month":"2020-03","value":105}`,
		`{"category":"Goods","month":"2020-03","value":107}`,
		`{"category":"Services","month":"2020-03","value":102}`,
	} {
		rw := doRequest(s, http.MethodPost, "/observations", body)
		if rw.Code != http.StatusCreated {
			t.Fatalf("POST /observations status = %d, body %q", rw.Code, rw.Body.String())
		}
		if got := decodeBody[createdPayload](t, rw); got.Ref == "" {
			t.Error("created payload missing ref")
		}
	}

	rw := doRequest(s, http.MethodGet, "/weights?month=2020-03", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /weights after ingest status = %d, body %q", rw.Code, rw.Body.String())
	}
}

func TestCreateObservationInvalid(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed JSON", `{`, http.StatusBadRequest},
		{"unknown field", `{"category":"A","month":"2020-03","value":1,"extra":true}`, http.StatusBadRequest},
		{"bad month", `{"category":"A","month":"March","value":1}`, http.StatusBadRequest},
		{"non-positive value", `{"category":"A","month":"2020-03","value":0}`, http.StatusUnprocessableEntity},
		{"empty category", `{"category":" ","month":"2020-03","value":1}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := doRequest(s, http.MethodPost, "/observations", tt.body)
			if rw.Code != tt.want {
				t.Errorf("status = %d, want %d (body %q)", rw.Code, tt.want, rw.Body.String())
			}
		})
	}
}

func TestCreateAnchor(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodPost, "/anchors", `{"category":"Goods","year":2020,"value":58}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("POST /anchors status = %d, body %q", rw.Code, rw.Body.String())
	}

	rw = doRequest(s, http.MethodPost, "/anchors", `{"category":"Goods","year":2020,"value":-1}`)
	if rw.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative anchor status = %d, want 422", rw.Code)
	}
}

func TestCacheInvalidationOnIngest(t *testing.T) {
	s, store := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("first GET status = %d", rw.Code)
	}
	if _, found := s.weightsCache.Get("2020-01"); !found {
		t.Fatal("weights should be cached after a GET")
	}

	// A December observation re-bases every month of the following year.
	if _, err := store.AppendObservation(context.Background(), core.Observation{
		Category: "Goods", Month: month(2019, time.December), Value: 101,
	}); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	rw = doRequest(s, http.MethodPost, "/observations",
		`{"category":"Services","month":"2019-12","value":100.5}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("POST status = %d", rw.Code)
	}

	if _, found := s.weightsCache.Get("2020-01"); found {
		t.Error("December ingest should invalidate cached months of the next year")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodPost, "/weights?month=2020-01", "")
	if rw.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /weights status = %d, want 405", rw.Code)
	}
	if rw.Header().Get("Allow") != "GET" {
		t.Errorf("Allow header = %q, want GET", rw.Header().Get("Allow"))
	}

	rw = doRequest(s, http.MethodGet, "/observations", "")
	if rw.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /observations status = %d, want 405", rw.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, target := range []string{"/healthz", "/readyz"} {
		rw := doRequest(s, http.MethodGet, target, "")
		if rw.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", target, rw.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	// One miss, one hit.
	doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	doRequest(s, http.MethodGet, "/weights?month=2020-01", "")

	rw := doRequest(s, http.MethodGet, "/metrics", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rw.Code)
	}
	body := rw.Body.String()
	for _, want := range []string{
		"weights_computes_total 1",
		"weights_cache_hits_total 1",
		"weights_cache_misses_total 1",
		"http_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestRequestLoggingThroughContext(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	// The server captures the default handler at construction, so the
	// buffer has to be in place first.
	s, _ := newTestServer(t)

	doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	doRequest(s, http.MethodGet, "/weights?month=2020-01", "")
	doRequest(s, http.MethodPost, "/observations",
		`{"category":"Goods","month":"2020-04","value":108}`)

	logs := buf.String()
	if !strings.Contains(logs, "Month weights recomputed") || !strings.Contains(logs, "month=2020-01") {
		t.Errorf("first GET should log the recompute with its month:\n%s", logs)
	}
	if !strings.Contains(logs, "Weights cache hit") {
		t.Errorf("second GET should log the cache hit:\n%s", logs)
	}
	if !strings.Contains(logs, "Observation appended") || !strings.Contains(logs, "sheets_ref=") {
		t.Errorf("POST should log the append with its row ref:\n%s", logs)
	}
	if !strings.Contains(logs, "component=http") {
		t.Errorf("request-scoped records should carry the http component:\n%s", logs)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	rw := doRequest(s, http.MethodGet, "/healthz", "")
	if got := rw.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rw.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Errorf("CSP = %q, want default-src 'none'", got)
	}
}
