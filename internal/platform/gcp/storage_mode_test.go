package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigDefaultGCS(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "", "datasets", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
	if cfg.Inferred || cfg.Location() != "gs://datasets" {
		t.Fatalf("config: got=%+v location=%q", cfg, cfg.Location())
	}
}

func TestResolveObjectStorageConfigExplicitGCS(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("gcs", "http://fake-gcs:4443", "datasets", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
}

func TestResolveObjectStorageConfigInfersEmulator(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "http://fake-gcs:4443", "datasets", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCSEmulator, cfg.Mode)
	}
	if !cfg.Inferred || cfg.Source() != "inferred" {
		t.Fatalf("source: want=%q got=%q", "inferred", cfg.Source())
	}
}

func TestResolveObjectStorageConfigFilesystem(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("filesystem", "", "", "/var/lib/moldline")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeFilesystem || cfg.Mode.UsesBucket() {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeFilesystem, cfg.Mode)
	}
	if cfg.Location() != "/var/lib/moldline" || cfg.Source() != "configured" {
		t.Fatalf("location=%q source=%q", cfg.Location(), cfg.Source())
	}
}

func TestResolveObjectStorageConfigErrors(t *testing.T) {
	cases := []struct {
		name               string
		mode, host, bucket string
		root               string
		code               ObjectStorageConfigErrorCode
	}{
		{"invalid mode", "s3", "", "datasets", "", ObjectStorageConfigErrorInvalidMode},
		{"missing emulator host", "gcs_emulator", "", "datasets", "", ObjectStorageConfigErrorMissingEmulatorHost},
		{"invalid emulator host", "gcs_emulator", "fake-gcs:4443", "datasets", "", ObjectStorageConfigErrorInvalidEmulatorHost},
		{"missing bucket", "gcs", "", "", "", ObjectStorageConfigErrorMissingBucket},
		{"missing root", "filesystem", "", "", "", ObjectStorageConfigErrorMissingRoot},
		{"mode case and spaces", " GCS_Emulator ", "ftp:", "datasets", "", ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveObjectStorageConfig(tc.mode, tc.host, tc.bucket, tc.root)
			var cfgErr *ObjectStorageConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ObjectStorageConfigError, got %v", err)
			}
			if cfgErr.Code != tc.code {
				t.Fatalf("code: want=%q got=%q", tc.code, cfgErr.Code)
			}
		})
	}
}
