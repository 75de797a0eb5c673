// Package ctxutil carries correlation IDs for HTTP requests and ingestion
// runs through a context.
package ctxutil

import "context"

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
	// RunID is set for work done on behalf of one ingestion run.
	RunID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func TraceFrom(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// WithRunID copies any trace data already on ctx and tags it with runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	td := TraceData{RunID: runID}
	if prev := TraceFrom(ctx); prev != nil {
		td.TraceID, td.RequestID = prev.TraceID, prev.RequestID
	}
	return WithTraceData(ctx, &td)
}

// LogFields returns the non-empty IDs as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	td := TraceFrom(ctx)
	if td == nil {
		return nil
	}
	var kv []interface{}
	if td.TraceID != "" {
		kv = append(kv, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		kv = append(kv, "request_id", td.RequestID)
	}
	if td.RunID != "" {
		kv = append(kv, "run_id", td.RunID)
	}
	return kv
}
