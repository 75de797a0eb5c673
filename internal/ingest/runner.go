package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/moldline-backend/internal/platform/ctxutil"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Runner is the in-process Controller. It runs the stages in order on the
// calling goroutine, bounding each attempt by its policy timeout and
// retrying retryable archive, load and cleanup errors up to the policy's
// MaxAttempts.
type Runner struct {
	log      *logger.Logger
	fetcher  *Fetcher
	archiver *Archiver
	loader   *Loader
	cleaner  *Cleaner
	policies Policies
	obs      Observer
	now      func() time.Time
	sleepFn  func(ctx context.Context, d time.Duration) error
}

var _ Controller = (*Runner)(nil)

type RunnerDeps struct {
	Fetcher  *Fetcher
	Archiver *Archiver
	Loader   *Loader
	Cleaner  *Cleaner
}

func NewRunner(log *logger.Logger, deps RunnerDeps, policies Policies, obs Observer) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	cleaner := deps.Cleaner
	if cleaner == nil {
		cleaner = NewCleaner(log, obs)
	}
	// The fetcher already retries transport failures in-stage.
	policies.Fetch.MaxAttempts = 1
	return &Runner{
		log:      log.With("service", "IngestRunner"),
		fetcher:  deps.Fetcher,
		archiver: deps.Archiver,
		loader:   deps.Loader,
		cleaner:  cleaner,
		policies: policies,
		obs:      observerOrNop(obs),
		now:      time.Now,
		sleepFn:  sleepCtx,
	}
}

// Run always returns a report; err is non-nil exactly when the report's
// status is failed.
func (r *Runner) Run(ctx context.Context, source string) (report RunReport, err error) {
	runID := uuid.NewString()
	ctx = ctxutil.WithRunID(ctx, runID)
	log := r.log.With(ctxutil.LogFields(ctx)...)
	report = NewRunReport(source, r.now())
	log.Info("Ingestion run started", "source", source)

	defer func() {
		if err != nil {
			report.Fail(err, r.now())
			log.Error("Ingestion run failed", "kind", report.ErrorKind, "stage", report.FailedStage, "error", report.ErrorMessage)
		} else {
			report.Complete(r.now())
			log.Info("Ingestion run completed",
				"digest", shortDigest(report.ContentDigest),
				"products", report.ProductCount,
				"defects", report.DefectCount,
			)
		}
		r.obs.RecordRun(string(report.Status))
	}()

	handle, err := runStage(ctx, r, StageFetch, func(ctx context.Context) (DatasetHandle, error) {
		return r.fetcher.Fetch(ctx, source)
	})
	if err != nil {
		return report, err
	}
	report.ApplyFetch(handle)
	defer func() {
		_, cerr := runStage(context.WithoutCancel(ctx), r, StageCleanup, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.cleaner.Cleanup(ctx, handle)
		})
		if cerr != nil {
			log.Warn("Scratch cleanup failed", "error", cerr)
		}
	}()

	archived, err := runStage(ctx, r, StageArchive, func(ctx context.Context) (ArchivedDataset, error) {
		return r.archiver.Archive(ctx, handle)
	})
	if err != nil {
		return report, err
	}
	report.ApplyArchive(archived)

	stats, err := runStage(ctx, r, StageLoad, func(ctx context.Context) (LoadStats, error) {
		return r.loader.Load(ctx, archived)
	})
	if err != nil {
		return report, err
	}
	report.ApplyLoad(stats)
	return report, nil
}

func runStage[T any](ctx context.Context, r *Runner, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	policy := r.policies.For(stage)
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var zero T
	for attempt := 1; ; attempt++ {
		out, err := attemptStage(ctx, policy.Timeout, fn)
		if err == nil {
			return out, nil
		}
		if attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		delay := policy.Backoff(attempt)
		r.log.Warn("Stage attempt failed, retrying",
			"stage", stage,
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", delay.String(),
			"error", err,
		)
		if serr := r.sleepFn(ctx, delay); serr != nil {
			return zero, err
		}
	}
}

func attemptStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func retryable(err error) bool {
	if se, ok := AsStageError(err); ok {
		return se.Retryable()
	}
	return true
}
