package ingest

import (
	"context"
	"fmt"
)

const objectKeyPrefix = "datasets/"

// DatasetHandle is the fetcher's output: where the received bytes are and
// what they hash to.
type DatasetHandle struct {
	Source    string `json:"source"`
	Digest    string `json:"digest"`
	SizeBytes int64  `json:"size_bytes"`
	// StorageRef is the scratch file path, or the source path itself for
	// local inputs.
	StorageRef string `json:"storage_ref"`
	// Scratch is true when StorageRef is a file this pipeline created and
	// must remove once the run is over.
	Scratch bool `json:"scratch"`
}

// ArchivedDataset is the archiver's output.
type ArchivedDataset struct {
	DatasetHandle
	ObjectKey string `json:"object_key"`
	ObjectURI string `json:"object_uri"`
}

// LoadInput is what the loader consumes.
type LoadInput = ArchivedDataset

// LoadStats are the row counts present right after the load committed.
type LoadStats struct {
	Products      int64 `json:"products"`
	MachineStates int64 `json:"machine_states"`
	Defects       int64 `json:"defects"`
}

// ObjectKey is the content-addressed archive key for a digest.
func ObjectKey(digest string) string {
	return fmt.Sprintf("%s%s.json", objectKeyPrefix, digest)
}

// Controller drives one ingestion run end to end.
type Controller interface {
	Run(ctx context.Context, source string) (RunReport, error)
}
