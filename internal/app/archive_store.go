package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/gcp"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// newBucketStore is swapped in tests so bucket modes can be exercised
// without a GCS endpoint.
var newBucketStore = func(ctx context.Context, log *logger.Logger, cfg gcp.ObjectStorageConfig, opts gcp.BucketStoreOptions) (blob.Store, error) {
	return gcp.NewBucketStore(ctx, log, cfg, opts)
}

type ArchiveStoreErrorCode string

const (
	ArchiveStoreInvalidMode         ArchiveStoreErrorCode = "invalid_mode"
	ArchiveStoreMissingEmulatorHost ArchiveStoreErrorCode = "missing_emulator_host"
	ArchiveStoreInvalidEmulatorHost ArchiveStoreErrorCode = "invalid_emulator_host"
	ArchiveStoreMissingLocation     ArchiveStoreErrorCode = "missing_location"
	ArchiveStoreUnreachable         ArchiveStoreErrorCode = "unreachable"
)

var archiveStoreCodes = map[gcp.ObjectStorageConfigErrorCode]ArchiveStoreErrorCode{
	gcp.ObjectStorageConfigErrorInvalidMode:         ArchiveStoreInvalidMode,
	gcp.ObjectStorageConfigErrorMissingEmulatorHost: ArchiveStoreMissingEmulatorHost,
	gcp.ObjectStorageConfigErrorInvalidEmulatorHost: ArchiveStoreInvalidEmulatorHost,
	gcp.ObjectStorageConfigErrorMissingBucket:       ArchiveStoreMissingLocation,
	gcp.ObjectStorageConfigErrorMissingRoot:         ArchiveStoreMissingLocation,
}

// ArchiveStoreError reports why the dataset archive could not be opened at
// startup.
type ArchiveStoreError struct {
	Code     ArchiveStoreErrorCode
	Mode     gcp.ObjectStorageMode
	Location string
	Cause    error
}

func (e *ArchiveStoreError) Error() string {
	if e == nil {
		return "open dataset archive failed"
	}
	return fmt.Sprintf("open dataset archive (%s, mode=%s location=%q): %v", e.Code, e.Mode, e.Location, e.Cause)
}

func (e *ArchiveStoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newArchiveStoreError(cfg gcp.ObjectStorageConfig, err error) *ArchiveStoreError {
	code := ArchiveStoreUnreachable
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		if c, ok := archiveStoreCodes[cfgErr.Code]; ok {
			code = c
		}
	}
	return &ArchiveStoreError{Code: code, Mode: cfg.Mode, Location: cfg.Location(), Cause: err}
}

// archiveStoreErrorCode is the code carried by err, or unreachable.
func archiveStoreErrorCode(err error) ArchiveStoreErrorCode {
	var ae *ArchiveStoreError
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return ArchiveStoreUnreachable
}

// openArchiveStore builds the blob store that Archiver writes to and
// Loader reads from, creating its bucket or root directory when missing.
func openArchiveStore(ctx context.Context, log *logger.Logger, cfg Config) (blob.Store, error) {
	sc := cfg.Storage
	log = log.With("mode", sc.Mode, "source", sc.Source(), "location", sc.Location())

	store, err := dialArchiveStore(ctx, log, cfg)
	if err == nil {
		err = store.EnsureBucket(ctx)
	}
	if err != nil {
		ae := newArchiveStoreError(sc, err)
		log.Error("Dataset archive unavailable", "error_code", ae.Code, "error", err)
		return nil, ae
	}
	log.Info("Dataset archive ready")
	return store, nil
}

func dialArchiveStore(ctx context.Context, log *logger.Logger, cfg Config) (blob.Store, error) {
	sc := cfg.Storage
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if !sc.Mode.UsesBucket() {
		return blob.NewFilesystemStore(sc.Root)
	}
	return newBucketStore(ctx, log, sc, gcp.BucketStoreOptions{
		ProjectID:   cfg.GCPProjectID,
		Credentials: cfg.GCPCredentials,
	})
}
