package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewIngestMetrics(reg)
	if err != nil {
		t.Fatalf("NewIngestMetrics: %v", err)
	}
	m.RecordStage("fetch", 2*time.Second, "")
	m.RecordStage("load", time.Second, "ParseFailure")
	m.RecordFetchAttempt("success")
	m.RecordFetchedBytes(1024)
	m.RecordArchiveDedup()
	m.RecordLoadedRows("products", 3)
	m.RecordRun("succeeded")

	if got := testutil.ToFloat64(m.stageErrors.WithLabelValues("load", "ParseFailure")); got != 1 {
		t.Fatalf("stage errors: want=1 got=%v", got)
	}
	if got := testutil.ToFloat64(m.fetchedBytes); got != 1024 {
		t.Fatalf("fetched bytes: want=1024 got=%v", got)
	}
	if got := testutil.ToFloat64(m.loadedRows.WithLabelValues("products")); got != 3 {
		t.Fatalf("loaded rows: want=3 got=%v", got)
	}

	expected := `
# HELP moldline_ingest_runs_total Completed ingestion runs by status.
# TYPE moldline_ingest_runs_total counter
moldline_ingest_runs_total{status="succeeded"} 1
`
	if err := testutil.CollectAndCompare(m.runs, strings.NewReader(expected)); err != nil {
		t.Fatalf("runs: %v", err)
	}
}

func TestIngestMetricsReRegisterSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewIngestMetrics(reg)
	if err != nil {
		t.Fatalf("first NewIngestMetrics: %v", err)
	}
	b, err := NewIngestMetrics(reg)
	if err != nil {
		t.Fatalf("second NewIngestMetrics: %v", err)
	}
	a.RecordArchiveDedup()
	b.RecordArchiveDedup()
	if got := testutil.ToFloat64(a.archiveDedup); got != 2 {
		t.Fatalf("shared counter: want=2 got=%v", got)
	}
}

func TestNilIngestMetricsIsSafe(t *testing.T) {
	var m *IngestMetrics
	m.RecordStage("fetch", time.Second, "Timeout")
	m.RecordFetchAttempt("error")
	m.RecordRun("failed")
}

func TestParseHeaders(t *testing.T) {
	h := (OtelConfig{Headers: "authorization=Bearer x, bad, =empty,k=v"}).headers()
	if len(h) != 2 || h["authorization"] != "Bearer x" || h["k"] != "v" {
		t.Fatalf("parseHeaders: got=%v", h)
	}
	if (OtelConfig{Headers: ""}).headers() != nil {
		t.Fatalf("parseHeaders(empty): want nil")
	}
}

func TestAPIMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAPIMetrics(reg)
	if err != nil {
		t.Fatalf("NewAPIMetrics: %v", err)
	}
	m.ApiInflightInc()
	m.ObserveAPI("GET", "/api/v1/analytics/machines", "200", 10*time.Millisecond)
	if got := testutil.ToFloat64(m.inflight); got != 1 {
		t.Fatalf("inflight: want=1 got=%v", got)
	}
	m.ApiInflightDec()
	if got := testutil.CollectAndCount(m.requests); got != 1 {
		t.Fatalf("request series: want=1 got=%d", got)
	}

	var nilMetrics *APIMetrics
	nilMetrics.ObserveAPI("GET", "/", "200", time.Millisecond)
}
