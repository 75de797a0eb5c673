package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunReport is the caller visible summary of one ingestion run.
type RunReport struct {
	SourceURI         string    `json:"source_uri" yaml:"source_uri"`
	ContentDigest     string    `json:"content_digest" yaml:"content_digest"`
	SizeBytes         int64     `json:"size_bytes" yaml:"size_bytes"`
	ArchiveURI        string    `json:"archive_uri" yaml:"archive_uri"`
	ProductCount      int64     `json:"product_count" yaml:"product_count"`
	MachineStateCount int64     `json:"machine_state_count" yaml:"machine_state_count"`
	DefectCount       int64     `json:"defect_count" yaml:"defect_count"`
	Status            RunStatus `json:"status" yaml:"status"`
	FailedStage       Stage     `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	StartedAt         time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt        time.Time `json:"finished_at" yaml:"finished_at"`
}

func NewRunReport(source string, startedAt time.Time) RunReport {
	return RunReport{
		SourceURI: logger.StripURLSecrets(source),
		StartedAt: startedAt.UTC(),
	}
}

func (r *RunReport) ApplyFetch(h DatasetHandle) {
	r.ContentDigest = h.Digest
	r.SizeBytes = h.SizeBytes
}

func (r *RunReport) ApplyArchive(a ArchivedDataset) {
	r.ApplyFetch(a.DatasetHandle)
	r.ArchiveURI = a.ObjectURI
}

func (r *RunReport) ApplyLoad(s LoadStats) {
	r.ProductCount = s.Products
	r.MachineStateCount = s.MachineStates
	r.DefectCount = s.Defects
}

func (r *RunReport) Complete(now time.Time) {
	r.Status = RunCompleted
	r.FinishedAt = now.UTC()
}

// Fail marks the run failed. Kind and message come from the stage error
// when there is one.
func (r *RunReport) Fail(err error, now time.Time) {
	r.Status = RunFailed
	r.FinishedAt = now.UTC()
	if se, ok := AsStageError(err); ok {
		r.FailedStage = se.Stage()
		r.ErrorKind = se.ErrorKind()
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.ErrorKind = KindCanceled
	} else {
		r.ErrorKind = KindInternal
	}
	r.ErrorMessage = SafeMessage(err)
}

// FailWith records a failure that only survived as a type name and message,
// e.g. an error that crossed a workflow boundary.
func (r *RunReport) FailWith(stage Stage, kind ErrorKind, message string, now time.Time) {
	r.Status = RunFailed
	r.FinishedAt = now.UTC()
	r.FailedStage = stage
	r.ErrorKind = kind
	r.ErrorMessage = message
}

// Err rebuilds an error from a failed report, for controllers whose stage
// errors only survived as report fields. It is nil unless the run failed.
func (r RunReport) Err() error {
	if r.Status != RunFailed {
		return nil
	}
	cause := errors.New(r.ErrorMessage)
	switch r.FailedStage {
	case StageFetch:
		return &FetchError{Kind: r.ErrorKind, Err: cause}
	case StageArchive:
		return &ArchiveError{Kind: r.ErrorKind, Err: cause}
	case StageLoad:
		return &LoadError{Kind: r.ErrorKind, Err: cause}
	case StageCleanup:
		return &CleanupError{Err: cause}
	default:
		return fmt.Errorf("ingestion run failed: %s: %s", r.ErrorKind, r.ErrorMessage)
	}
}
