package gcp

import (
	"fmt"
	"net/url"
	"strings"
)

// ObjectStorageMode selects where dataset archives are written.
type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
	ObjectStorageModeFilesystem  ObjectStorageMode = "filesystem"
)

func (m ObjectStorageMode) Valid() bool {
	switch m {
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator, ObjectStorageModeFilesystem:
		return true
	}
	return false
}

// UsesBucket reports whether archives go to a GCS (or fake-gcs) bucket.
func (m ObjectStorageMode) UsesBucket() bool {
	return m == ObjectStorageModeGCS || m == ObjectStorageModeGCSEmulator
}

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	EmulatorHost string
	Bucket       string
	Root         string
	// Inferred is set when no mode was configured and the presence of
	// STORAGE_EMULATOR_HOST picked the emulator.
	Inferred bool
}

// Source is "inferred" or "configured", for startup logs.
func (cfg ObjectStorageConfig) Source() string {
	if cfg.Inferred {
		return "inferred"
	}
	return "configured"
}

// Location names the archive destination: a gs:// bucket URI or a directory.
func (cfg ObjectStorageConfig) Location() string {
	if cfg.Mode.UsesBucket() {
		return "gs://" + cfg.Bucket
	}
	return cfg.Root
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
	ObjectStorageConfigErrorMissingBucket       ObjectStorageConfigErrorCode = "missing_bucket"
	ObjectStorageConfigErrorMissingRoot         ObjectStorageConfigErrorCode = "missing_root"
)

type ObjectStorageConfigError struct {
	Code         ObjectStorageConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	var msg string
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		msg = fmt.Sprintf("OBJECT_STORAGE_MODE=%q is not one of %s, %s or %s",
			e.Mode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator, ObjectStorageModeFilesystem)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		msg = "STORAGE_EMULATOR_HOST is required for the gcs_emulator archive"
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		msg = fmt.Sprintf("STORAGE_EMULATOR_HOST=%q must be an absolute URL such as http://fake-gcs:4443", e.EmulatorHost)
	case ObjectStorageConfigErrorMissingBucket:
		msg = fmt.Sprintf("DATASET_BUCKET_NAME is required for the %s archive", e.Mode)
	case ObjectStorageConfigErrorMissingRoot:
		msg = "OBJECT_STORAGE_ROOT is required for the filesystem archive"
	default:
		return "invalid object storage config"
	}
	return "object storage: " + msg
}

func (e *ObjectStorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveObjectStorageConfig normalizes raw settings and validates them.
// With no mode set, an emulator host selects gcs_emulator and anything else
// selects gcs.
func ResolveObjectStorageConfig(rawMode, emulatorHost, bucket, root string) (ObjectStorageConfig, error) {
	cfg := ObjectStorageConfig{
		Mode:         ObjectStorageMode(strings.ToLower(strings.TrimSpace(rawMode))),
		EmulatorHost: strings.TrimSpace(emulatorHost),
		Bucket:       strings.TrimSpace(bucket),
		Root:         strings.TrimSpace(root),
	}
	if cfg.Mode == "" {
		cfg.Mode = ObjectStorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode, cfg.Inferred = ObjectStorageModeGCSEmulator, true
		}
	}
	if !cfg.Mode.Valid() {
		return cfg, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: strings.TrimSpace(rawMode)}
	}
	return cfg, cfg.Validate()
}

// Validate checks that the settings the mode needs are present.
func (cfg ObjectStorageConfig) Validate() error {
	fail := func(code ObjectStorageConfigErrorCode, cause error) error {
		return &ObjectStorageConfigError{Code: code, Mode: string(cfg.Mode), EmulatorHost: cfg.EmulatorHost, Cause: cause}
	}
	switch cfg.Mode {
	case ObjectStorageModeFilesystem:
		if cfg.Root == "" {
			return fail(ObjectStorageConfigErrorMissingRoot, nil)
		}
		return nil
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator:
	default:
		return fail(ObjectStorageConfigErrorInvalidMode, nil)
	}
	if cfg.Bucket == "" {
		return fail(ObjectStorageConfigErrorMissingBucket, nil)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return fail(ObjectStorageConfigErrorMissingEmulatorHost, nil)
	}
	if u, err := url.Parse(cfg.EmulatorHost); err != nil || u.Scheme == "" || u.Host == "" {
		return fail(ObjectStorageConfigErrorInvalidEmulatorHost, err)
	}
	return nil
}
