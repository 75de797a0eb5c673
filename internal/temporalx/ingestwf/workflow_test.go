package ingestwf

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/worker"

	"github.com/yungbote/moldline-backend/internal/ingest"
)

var (
	testHandle = ingest.DatasetHandle{
		Source:     "https://datasets.example.com/data.json",
		Digest:     "ab12",
		SizeBytes:  42,
		StorageRef: "/tmp/moldline-fetch-1.json",
		Scratch:    true,
	}
	testArchived = ingest.ArchivedDataset{
		DatasetHandle: testHandle,
		ObjectKey:     "datasets/ab12.json",
		ObjectURI:     "gs://moldline/datasets/ab12.json",
	}
	testStats = ingest.LoadStats{Products: 3, MachineStates: 3, Defects: 9}
)

func newWorkflowEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.SetWorkerOptions(worker.Options{EnableSessionWorker: true})
	Register(env, &Activities{})
	return env
}

func runWorkflow(t *testing.T, env *testsuite.TestWorkflowEnvironment) ingest.RunReport {
	t.Helper()
	env.ExecuteWorkflow(WorkflowName, WorkflowInput{Source: testHandle.Source, Policies: ingest.DefaultPolicies()})
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var report ingest.RunReport
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult: %v", err)
	}
	return report
}

func TestWorkflowCompletesAllStages(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityFetch, mock.Anything, testHandle.Source).Return(testHandle, nil).Once()
	env.OnActivity(ActivityArchive, mock.Anything, testHandle).Return(testArchived, nil).Once()
	env.OnActivity(ActivityLoad, mock.Anything, testArchived).Return(testStats, nil).Once()
	env.OnActivity(ActivityCleanup, mock.Anything, testHandle).Return(nil).Once()

	report := runWorkflow(t, env)
	env.AssertExpectations(t)

	if report.Status != ingest.RunCompleted {
		t.Fatalf("status: want=%q got=%q (%+v)", ingest.RunCompleted, report.Status, report)
	}
	if report.ArchiveURI != testArchived.ObjectURI || report.ContentDigest != testHandle.Digest {
		t.Fatalf("archive fields: got=%+v", report)
	}
	if report.ProductCount != 3 || report.MachineStateCount != 3 || report.DefectCount != 9 {
		t.Fatalf("counts: got=%+v", report)
	}
}

func TestWorkflowRetriesRetryableArchiveFailure(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityFetch, mock.Anything, mock.Anything).Return(testHandle, nil).Once()
	env.OnActivity(ActivityArchive, mock.Anything, mock.Anything).
		Return(ingest.ArchivedDataset{}, temporal.NewApplicationError("ArchiveError.StoreUnavailable: 503", "ArchiveError.StoreUnavailable")).Once()
	env.OnActivity(ActivityArchive, mock.Anything, mock.Anything).Return(testArchived, nil).Once()
	env.OnActivity(ActivityLoad, mock.Anything, mock.Anything).Return(testStats, nil).Once()
	env.OnActivity(ActivityCleanup, mock.Anything, mock.Anything).Return(nil).Once()

	report := runWorkflow(t, env)
	env.AssertExpectations(t)
	if report.Status != ingest.RunCompleted {
		t.Fatalf("status: want=%q got=%+v", ingest.RunCompleted, report)
	}
}

func TestWorkflowNonRetryableLoadFailureReportsAndCleansUp(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityFetch, mock.Anything, mock.Anything).Return(testHandle, nil).Once()
	env.OnActivity(ActivityArchive, mock.Anything, mock.Anything).Return(testArchived, nil).Once()
	env.OnActivity(ActivityLoad, mock.Anything, mock.Anything).
		Return(ingest.LoadStats{}, temporal.NewNonRetryableApplicationError("LoadError.ParseFailure: record 0", "LoadError.ParseFailure", nil)).Once()
	env.OnActivity(ActivityCleanup, mock.Anything, testHandle).Return(nil).Once()

	report := runWorkflow(t, env)
	env.AssertExpectations(t)

	if report.Status != ingest.RunFailed || report.FailedStage != ingest.StageLoad || report.ErrorKind != ingest.KindParseFailure {
		t.Fatalf("report: got=%+v", report)
	}
	if report.ArchiveURI != testArchived.ObjectURI {
		t.Fatalf("archive fields should survive a load failure: got=%+v", report)
	}
	se, ok := ingest.AsStageError(report.Err())
	if !ok || se.TypeName() != "LoadError.ParseFailure" {
		t.Fatalf("report.Err: got=%v", report.Err())
	}
}

func TestWorkflowFetchFailureSkipsLaterStages(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityFetch, mock.Anything, mock.Anything).
		Return(ingest.DatasetHandle{}, temporal.NewNonRetryableApplicationError("FetchError.NotFound: status 404", "FetchError.NotFound", nil)).Once()

	report := runWorkflow(t, env)
	env.AssertExpectations(t)

	if report.FailedStage != ingest.StageFetch || report.ErrorKind != ingest.KindNotFound {
		t.Fatalf("report: got=%+v", report)
	}
}

func TestActivityOptionsFromPolicy(t *testing.T) {
	p := ingest.StagePolicy{Timeout: time.Minute, MaxAttempts: 0, InitialInterval: time.Second}
	opts := ActivityOptions(p)
	if opts.StartToCloseTimeout != time.Minute || opts.HeartbeatTimeout != heartbeatTimeout {
		t.Fatalf("timeouts: got=%+v", opts)
	}
	if opts.RetryPolicy.MaximumAttempts != 1 || opts.RetryPolicy.BackoffCoefficient != 1 {
		t.Fatalf("retry policy: got=%+v", opts.RetryPolicy)
	}
}

func TestClassifyFailure(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		err   error
		stage ingest.Stage
		kind  ingest.ErrorKind
	}{
		{"typed", temporal.NewApplicationError("ArchiveError.StoreRejected: 403", "ArchiveError.StoreRejected"), ingest.StageArchive, ingest.KindStoreRejected},
		{"untyped application", temporal.NewApplicationError("boom", "PanicError"), ingest.StageLoad, ingest.KindInternal},
		{"canceled", temporal.NewCanceledError(), ingest.StageLoad, ingest.KindCanceled},
		{"plain", errors.New("boom"), ingest.StageLoad, ingest.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := classifyFailure(ingest.RunReport{}, ingest.StageLoad, tc.err, now)
			if r.Status != ingest.RunFailed || r.FailedStage != tc.stage || r.ErrorKind != tc.kind {
				t.Fatalf("report: want=%s/%s got=%+v", tc.stage, tc.kind, r)
			}
		})
	}
}

func TestSessionLifetimeCoversEveryStage(t *testing.T) {
	p := ingest.DefaultPolicies()
	// 3*(10m+1m) + 3*(5m+1m) + 2*(30m+1m) + 3*(1m+1m)
	want := 33*time.Minute + 18*time.Minute + 62*time.Minute + 6*time.Minute
	if got := sessionLifetime(p); got != want {
		t.Fatalf("want=%v got=%v", want, got)
	}
	if got := sessionLifetime(ingest.Policies{}); got != minSessionLifetime {
		t.Fatalf("want=%v got=%v", minSessionLifetime, got)
	}
}
