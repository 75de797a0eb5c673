package ingestwf

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/moldline-backend/internal/ingest"
	"github.com/yungbote/moldline-backend/internal/platform/ctxutil"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const heartbeatEvery = 10 * time.Second

// Activities adapts the pipeline stages to Temporal. Stage errors leave as
// application errors typed by their TypeName, so retryability survives the
// boundary and the workflow can rebuild the report.
type Activities struct {
	Log      *logger.Logger
	Fetcher  *ingest.Fetcher
	Archiver *ingest.Archiver
	Loader   *ingest.Loader
	Cleaner  *ingest.Cleaner
}

func (a *Activities) Fetch(ctx context.Context, source string) (ingest.DatasetHandle, error) {
	if a == nil || a.Fetcher == nil {
		return ingest.DatasetHandle{}, notConfigured("fetch")
	}
	ctx, stop := begin(ctx)
	defer stop()
	h, err := a.Fetcher.Fetch(ctx, source)
	return h, a.toApplicationError(ctx, err)
}

func (a *Activities) Archive(ctx context.Context, handle ingest.DatasetHandle) (ingest.ArchivedDataset, error) {
	if a == nil || a.Archiver == nil {
		return ingest.ArchivedDataset{}, notConfigured("archive")
	}
	ctx, stop := begin(ctx)
	defer stop()
	out, err := a.Archiver.Archive(ctx, handle)
	return out, a.toApplicationError(ctx, err)
}

func (a *Activities) Load(ctx context.Context, in ingest.LoadInput) (ingest.LoadStats, error) {
	if a == nil || a.Loader == nil {
		return ingest.LoadStats{}, notConfigured("load")
	}
	ctx, stop := begin(ctx)
	defer stop()
	stats, err := a.Loader.Load(ctx, in)
	return stats, a.toApplicationError(ctx, err)
}

func (a *Activities) Cleanup(ctx context.Context, handle ingest.DatasetHandle) error {
	if a == nil || a.Cleaner == nil {
		return notConfigured("cleanup")
	}
	ctx, stop := begin(ctx)
	defer stop()
	return a.toApplicationError(ctx, a.Cleaner.Cleanup(ctx, handle))
}

func (a *Activities) toApplicationError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	se, ok := ingest.AsStageError(err)
	if !ok {
		// Untyped errors keep Temporal's default handling.
		return err
	}
	msg := ingest.SafeMessage(err)
	if a.Log != nil {
		kv := append([]interface{}{"type", se.TypeName(), "retryable", se.Retryable(), "error", msg}, ctxutil.LogFields(ctx)...)
		a.Log.Warn("Ingestion activity failed", kv...)
	}
	if se.Retryable() {
		return temporal.NewApplicationError(msg, se.TypeName())
	}
	return temporal.NewNonRetryableApplicationError(msg, se.TypeName(), nil)
}

func notConfigured(stage string) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("ingest %s activity not configured", stage), "NotConfigured", nil)
}

// begin tags ctx with the workflow run ID and starts heartbeating.
func begin(ctx context.Context) (context.Context, func()) {
	if ctx == nil || !activity.IsActivity(ctx) {
		return ctx, func() {}
	}
	ctx = ctxutil.WithRunID(ctx, activity.GetInfo(ctx).WorkflowExecution.RunID)
	return ctx, startHeartbeat(ctx)
}

// startHeartbeat keeps long stages alive under HeartbeatTimeout and lets
// Temporal deliver cancellation. It is a no-op outside an activity.
func startHeartbeat(ctx context.Context) func() {
	if ctx == nil || !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	ticker := time.NewTicker(heartbeatEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
