package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/http/response"
	"github.com/yungbote/moldline-backend/internal/services"
)

type stubAnalytics struct {
	lastFilter   quality.Filter
	lastInterval services.Interval
	lastLimit    int
	err          error
	product      *services.ProductDefects
}

func (s *stubAnalytics) Machines(ctx context.Context) ([]string, error) {
	return []string{"M-1", "M-2"}, s.err
}

func (s *stubAnalytics) DefectRateTrend(ctx context.Context, f quality.Filter, interval services.Interval) (*services.DefectRateTrend, error) {
	s.lastFilter, s.lastInterval = f, interval
	return &services.DefectRateTrend{DataPoints: []services.DefectRatePoint{}}, s.err
}

func (s *stubAnalytics) MachineDefectHeatmap(ctx context.Context, f quality.Filter) (*services.DefectHeatmap, error) {
	s.lastFilter = f
	return &services.DefectHeatmap{}, s.err
}

func (s *stubAnalytics) TopDefects(ctx context.Context, f quality.Filter, limit int) (*services.TopDefects, error) {
	s.lastFilter, s.lastLimit = f, limit
	return &services.TopDefects{}, s.err
}

func (s *stubAnalytics) MachineComparison(ctx context.Context) ([]services.MachineComparison, error) {
	return []services.MachineComparison{{MachineID: "M-1", Total: 2}}, s.err
}

func (s *stubAnalytics) DefectDistribution(ctx context.Context, f quality.Filter) (*services.DefectDistribution, error) {
	s.lastFilter = f
	return &services.DefectDistribution{}, s.err
}

func (s *stubAnalytics) CycleTimeScatter(ctx context.Context, f quality.Filter, limit int) (*services.CycleTimeScatter, error) {
	s.lastFilter, s.lastLimit = f, limit
	return &services.CycleTimeScatter{}, s.err
}

func (s *stubAnalytics) ProductDefects(ctx context.Context, id int64) (*services.ProductDefects, error) {
	return s.product, s.err
}

func newAnalyticsEngine(stub *stubAnalytics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAnalyticsHandler(nil, stub)
	r := gin.New()
	g := r.Group("/api/v1/analytics")
	g.GET("/machines", h.Machines)
	g.GET("/defect-rate-trend", h.DefectRateTrend)
	g.GET("/machine-defect-heatmap", h.MachineDefectHeatmap)
	g.GET("/top-defects", h.TopDefects)
	g.GET("/machine-comparison", h.MachineComparison)
	g.GET("/defect-distribution", h.DefectDistribution)
	g.GET("/cycle-time-scatter", h.CycleTimeScatter)
	g.GET("/product/:id/defects", h.ProductDefects)
	return r
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestMachinesEndpoint(t *testing.T) {
	rec := get(t, newAnalyticsEngine(&stubAnalytics{}), "/api/v1/analytics/machines")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, rec.Code)
	}
	var body struct {
		Machines []string `json:"machines"`
		Count    int      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Machines[1] != "M-2" {
		t.Fatalf("body: got=%+v", body)
	}
}

func TestDefectRateTrendParsesFilter(t *testing.T) {
	stub := &stubAnalytics{}
	rec := get(t, newAnalyticsEngine(stub), "/api/v1/analytics/defect-rate-trend?start_date=2024-05-01&end_date=2024-05-02T12:00:00Z&machine_id=M-1&interval=hour")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d (%s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	if stub.lastInterval != services.IntervalHour || stub.lastFilter.MachineID != "M-1" {
		t.Fatalf("args: interval=%q filter=%+v", stub.lastInterval, stub.lastFilter)
	}
	if stub.lastFilter.Start == nil || !stub.lastFilter.Start.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start: got=%v", stub.lastFilter.Start)
	}
	if stub.lastFilter.End == nil || stub.lastFilter.End.Hour() != 12 {
		t.Fatalf("end: got=%v", stub.lastFilter.End)
	}
}

func TestAnalyticsRejectsBadQueries(t *testing.T) {
	r := newAnalyticsEngine(&stubAnalytics{})
	cases := []struct {
		path string
		code string
	}{
		{"/api/v1/analytics/defect-rate-trend?interval=month", "invalid_interval"},
		{"/api/v1/analytics/defect-rate-trend?start_date=yesterday", "invalid_start_date"},
		{"/api/v1/analytics/top-defects?start_date=2024-05-02&end_date=2024-05-01", "invalid_date_range"},
		{"/api/v1/analytics/top-defects?limit=21", "invalid_limit"},
		{"/api/v1/analytics/cycle-time-scatter?limit=99", "invalid_limit"},
		{"/api/v1/analytics/product/abc/defects", "invalid_product_id"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := get(t, r, tc.path)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: want=%d got=%d", http.StatusBadRequest, rec.Code)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("code: want=%q got=%q", tc.code, got)
			}
		})
	}
}

func TestAnalyticsLimitDefaults(t *testing.T) {
	stub := &stubAnalytics{}
	r := newAnalyticsEngine(stub)
	get(t, r, "/api/v1/analytics/top-defects")
	if stub.lastLimit != 10 {
		t.Fatalf("top-defects default limit: got=%d", stub.lastLimit)
	}
	get(t, r, "/api/v1/analytics/cycle-time-scatter")
	if stub.lastLimit != 500 {
		t.Fatalf("scatter default limit: got=%d", stub.lastLimit)
	}
}

func TestHeatmapIgnoresMachineFilter(t *testing.T) {
	stub := &stubAnalytics{}
	get(t, newAnalyticsEngine(stub), "/api/v1/analytics/machine-defect-heatmap?machine_id=M-1")
	if stub.lastFilter.MachineID != "" {
		t.Fatalf("heatmap takes no machine filter: got=%q", stub.lastFilter.MachineID)
	}
}

func TestProductDefectsNotFound(t *testing.T) {
	rec := get(t, newAnalyticsEngine(&stubAnalytics{}), "/api/v1/analytics/product/42/defects")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "product_not_found" {
		t.Fatalf("want 404 product_not_found, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyticsHidesStoreErrors(t *testing.T) {
	stub := &stubAnalytics{err: errors.New("pq: password authentication failed for user admin")}
	rec := get(t, newAnalyticsEngine(stub), "/api/v1/analytics/machine-comparison")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=%d got=%d", http.StatusInternalServerError, rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("store error leaked: %s", rec.Body.String())
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		db   Pinger
		want int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", pingerFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"database down", pingerFunc(func(context.Context) error { return errors.New("down") }), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthcheck", NewHealthHandler(tc.db).HealthCheck)
			if rec := get(t, r, "/healthcheck"); rec.Code != tc.want {
				t.Fatalf("status: want=%d got=%d", tc.want, rec.Code)
			}
		})
	}
}
