package ingestwf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/moldline-backend/internal/ingest"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Controller runs ingestion as a Temporal workflow and waits for its report.
type Controller struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
	policies  ingest.Policies
	now       func() time.Time
}

var _ ingest.Controller = (*Controller)(nil)

func NewController(log *logger.Logger, tc temporalsdkclient.Client, taskQueue string, policies ingest.Policies) (*Controller, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal not configured (TEMPORAL_ADDRESS)")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if strings.TrimSpace(taskQueue) == "" {
		return nil, fmt.Errorf("ingest controller: missing task queue")
	}
	return &Controller{
		log:       log.With("service", "IngestWorkflowController"),
		tc:        tc,
		taskQueue: taskQueue,
		policies:  policies,
		now:       time.Now,
	}, nil
}

func (c *Controller) Run(ctx context.Context, source string) (ingest.RunReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := c.now()
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       WorkflowID,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := c.tc.ExecuteWorkflow(ctx, opts, WorkflowName, WorkflowInput{Source: source, Policies: c.policies})
	if err != nil {
		report := ingest.NewRunReport(source, started)
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			report.FailWith("", ingest.KindAlreadyRunning, "another ingestion run is in progress", c.now())
			c.log.Warn("Ingestion already running", "workflow_id", WorkflowID)
			return report, report.Err()
		}
		report.Fail(err, c.now())
		return report, fmt.Errorf("start ingestion workflow: %w", err)
	}
	c.log.Info("Ingestion workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var report ingest.RunReport
	if err := run.Get(ctx, &report); err != nil {
		report = ingest.NewRunReport(source, started)
		report.Fail(err, c.now())
		return report, fmt.Errorf("ingestion workflow: %w", err)
	}
	return report, report.Err()
}
