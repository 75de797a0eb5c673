package ingestwf

import (
	"errors"
	"fmt"
	"time"

	crdb "github.com/cockroachdb/errors"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/moldline-backend/internal/ingest"
)

const (
	heartbeatTimeout       = 30 * time.Second
	sessionCreationTimeout = 5 * time.Minute
	minSessionLifetime     = time.Hour
)

// Workflow runs fetch, archive and load as activities. Each completed
// stage's output lands in workflow history, so a worker crash resumes at
// the next stage instead of starting over. Stage failures are reported in
// the returned RunReport rather than as a workflow error.
//
// Fetch, archive and cleanup touch the scratch file and run inside one
// session so they land on the worker host that holds it. Load reads the
// archived object and may run anywhere.
func Workflow(ctx workflow.Context, in WorkflowInput) (ingest.RunReport, error) {
	log := workflow.GetLogger(ctx)
	policies := in.Policies
	if policies == (ingest.Policies{}) {
		policies = ingest.DefaultPolicies()
	}
	report := ingest.NewRunReport(in.Source, workflow.Now(ctx))
	log.Info("Ingestion workflow started", "source", report.SourceURI)

	sctx, err := workflow.CreateSession(ctx, &workflow.SessionOptions{
		CreationTimeout:  sessionCreationTimeout,
		ExecutionTimeout: sessionLifetime(policies),
		HeartbeatTimeout: heartbeatTimeout,
	})
	if err != nil {
		return failReport(ctx, report, ingest.StageFetch, err), nil
	}
	defer workflow.CompleteSession(sctx)

	var handle ingest.DatasetHandle
	if err := workflow.ExecuteActivity(stageContext(sctx, policies.Fetch), ActivityFetch, in.Source).Get(ctx, &handle); err != nil {
		return failReport(ctx, report, ingest.StageFetch, err), nil
	}
	report.ApplyFetch(handle)

	defer func() {
		cctx, cancel := workflow.NewDisconnectedContext(sctx)
		defer cancel()
		if err := workflow.ExecuteActivity(stageContext(cctx, policies.Cleanup), ActivityCleanup, handle).Get(cctx, nil); err != nil {
			log.Warn("Scratch cleanup failed", "error", err)
		}
	}()

	var archived ingest.ArchivedDataset
	if err := workflow.ExecuteActivity(stageContext(sctx, policies.Archive), ActivityArchive, handle).Get(ctx, &archived); err != nil {
		return failReport(ctx, report, ingest.StageArchive, err), nil
	}
	report.ApplyArchive(archived)

	var stats ingest.LoadStats
	if err := workflow.ExecuteActivity(stageContext(ctx, policies.Load), ActivityLoad, archived).Get(ctx, &stats); err != nil {
		return failReport(ctx, report, ingest.StageLoad, err), nil
	}
	report.ApplyLoad(stats)
	report.Complete(workflow.Now(ctx))
	log.Info("Ingestion workflow completed",
		"products", report.ProductCount,
		"machine_states", report.MachineStateCount,
		"defects", report.DefectCount,
	)
	return report, nil
}

// ActivityOptions maps a stage policy onto Temporal activity options.
func ActivityOptions(p ingest.StagePolicy) workflow.ActivityOptions {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	coef := p.BackoffCoefficient
	if coef < 1 {
		coef = 1
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: p.Timeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    p.InitialInterval,
			BackoffCoefficient: coef,
			MaximumInterval:    p.MaximumInterval,
			MaximumAttempts:    int32(attempts),
		},
	}
}

// sessionLifetime bounds the session by the worst case of every stage it
// spans, load included since cleanup runs after it.
func sessionLifetime(p ingest.Policies) time.Duration {
	var total time.Duration
	for _, sp := range []ingest.StagePolicy{p.Fetch, p.Archive, p.Load, p.Cleanup} {
		attempts := sp.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		total += time.Duration(attempts) * (sp.Timeout + sp.MaximumInterval)
	}
	if total < minSessionLifetime {
		return minSessionLifetime
	}
	return total
}

func stageContext(ctx workflow.Context, p ingest.StagePolicy) workflow.Context {
	return workflow.WithActivityOptions(ctx, ActivityOptions(p))
}

// failReport recovers the stage and kind from the activity's application
// error type; anything else is reported against the stage that was running.
func failReport(ctx workflow.Context, report ingest.RunReport, stage ingest.Stage, err error) ingest.RunReport {
	report = classifyFailure(report, stage, err, workflow.Now(ctx))
	workflow.GetLogger(ctx).Error("Ingestion workflow stage failed",
		"stage", report.FailedStage,
		"kind", report.ErrorKind,
	)
	return report
}

func classifyFailure(report ingest.RunReport, stage ingest.Stage, err error, now time.Time) ingest.RunReport {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if st, kind, ok := ingest.ParseTypeName(appErr.Type()); ok {
			report.FailWith(st, kind, appErr.Error(), now)
			return report
		}
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		report.FailWith(stage, ingest.KindTimeout, fmt.Sprintf("%s stage timed out (%v)", stage, timeoutErr.TimeoutType()), now)
		return report
	}
	if temporal.IsCanceledError(err) {
		report.FailWith(stage, ingest.KindCanceled, "ingestion run canceled", now)
		return report
	}
	report.FailWith(stage, ingest.KindInternal, crdb.Redact(err), now)
	return report
}
