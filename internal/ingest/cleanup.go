package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Cleaner removes scratch files once a run no longer needs them.
type Cleaner struct {
	log *logger.Logger
	obs Observer
}

func NewCleaner(log *logger.Logger, obs Observer) *Cleaner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cleaner{log: log.With("service", "Cleaner"), obs: observerOrNop(obs)}
}

// Cleanup deletes the handle's scratch file. Local sources are never
// touched, and a file that is already gone is not an error.
func (c *Cleaner) Cleanup(ctx context.Context, h DatasetHandle) (err error) {
	started := time.Now()
	defer func() { c.obs.RecordStage(string(StageCleanup), time.Since(started), kindLabel(err)) }()

	if !h.Scratch || h.StorageRef == "" {
		return nil
	}
	if err := os.Remove(h.StorageRef); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CleanupError{Err: err}
	}
	c.log.Debug("Removed scratch file", "path", h.StorageRef)
	return nil
}
