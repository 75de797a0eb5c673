package ingestwf

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/moldline-backend/internal/ingest"
)

const (
	WorkflowName    = "data_ingestion"
	ActivityFetch   = "ingest_fetch"
	ActivityArchive = "ingest_archive"
	ActivityLoad    = "ingest_load"
	ActivityCleanup = "ingest_cleanup"

	// WorkflowID is fixed so at most one ingestion runs at a time.
	WorkflowID = "moldline-data-ingestion"
)

// WorkflowInput is recorded in history, so the stage policies a run uses
// are the ones it started with.
type WorkflowInput struct {
	Source   string          `json:"source"`
	Policies ingest.Policies `json:"policies"`
}

// ActivityRegistry is satisfied by worker.Worker and the test environments.
type ActivityRegistry interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

type Registry interface {
	ActivityRegistry
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

// Register binds the workflow and activities under their stable names.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	RegisterActivities(r, acts)
}

func RegisterActivities(r ActivityRegistry, acts *Activities) {
	r.RegisterActivityWithOptions(acts.Fetch, activity.RegisterOptions{Name: ActivityFetch})
	r.RegisterActivityWithOptions(acts.Archive, activity.RegisterOptions{Name: ActivityArchive})
	r.RegisterActivityWithOptions(acts.Load, activity.RegisterOptions{Name: ActivityLoad})
	r.RegisterActivityWithOptions(acts.Cleanup, activity.RegisterOptions{Name: ActivityCleanup})
}
