package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/yungbote/moldline-backend/internal/ingest"

// Observer receives stage telemetry. observability.IngestMetrics satisfies it.
type Observer interface {
	RecordStage(stage string, d time.Duration, kind string)
	RecordFetchAttempt(outcome string)
	RecordFetchedBytes(n int64)
	RecordArchiveDedup()
	RecordLoadedRows(table string, n int64)
	RecordRun(status string)
}

type nopObserver struct{}

func (nopObserver) RecordStage(string, time.Duration, string) {}
func (nopObserver) RecordFetchAttempt(string)                 {}
func (nopObserver) RecordFetchedBytes(int64)                  {}
func (nopObserver) RecordArchiveDedup()                       {}
func (nopObserver) RecordLoadedRows(string, int64)            {}
func (nopObserver) RecordRun(string)                          {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func kindLabel(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := AsStageError(err); ok {
		return string(se.ErrorKind())
	}
	return "Unknown"
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kindLabel(err))
	}
	span.End()
}
