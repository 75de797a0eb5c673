package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/gcp"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

func TestNewArchiveStoreErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ArchiveStoreErrorCode
	}{
		{"invalid mode", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode}, ArchiveStoreInvalidMode},
		{"missing emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost}, ArchiveStoreMissingEmulatorHost},
		{"invalid emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost}, ArchiveStoreInvalidEmulatorHost},
		{"missing bucket", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingBucket}, ArchiveStoreMissingLocation},
		{"missing root", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingRoot}, ArchiveStoreMissingLocation},
		{"unreachable", errors.New("dial tcp: connection refused"), ArchiveStoreUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var err error = newArchiveStoreError(gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS, Bucket: "datasets"}, tc.err)
			got := err.(*ArchiveStoreError)
			if got.Location != "gs://datasets" {
				t.Fatalf("location: got=%q", got.Location)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause not preserved: %v", err)
			}
		})
	}
}

func TestOpenArchiveStoreFilesystem(t *testing.T) {
	root := t.TempDir()
	store, err := openArchiveStore(context.Background(), logger.NewNop(), Config{
		Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeFilesystem, Root: root},
	})
	if err != nil {
		t.Fatalf("openArchiveStore: %v", err)
	}
	if _, ok := store.(*blob.FilesystemStore); !ok {
		t.Fatalf("store: want *blob.FilesystemStore got=%T", store)
	}
}

func TestOpenArchiveStoreInvalidMode(t *testing.T) {
	_, err := openArchiveStore(context.Background(), logger.NewNop(), Config{
		Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageMode("invalid")},
	})
	if got := archiveStoreErrorCode(err); err == nil || got != ArchiveStoreInvalidMode {
		t.Fatalf("code: want=%q got=%q (err=%v)", ArchiveStoreInvalidMode, got, err)
	}
}

func TestOpenArchiveStoreMissingEmulatorHost(t *testing.T) {
	_, err := openArchiveStore(context.Background(), logger.NewNop(), Config{
		Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, Bucket: "datasets"},
	})
	if got := archiveStoreErrorCode(err); err == nil || got != ArchiveStoreMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q (err=%v)", ArchiveStoreMissingEmulatorHost, got, err)
	}
}

func TestOpenArchiveStoreGCSEmulatorMode(t *testing.T) {
	orig := newBucketStore
	t.Cleanup(func() { newBucketStore = orig })

	var captured gcp.ObjectStorageConfig
	var capturedOpts gcp.BucketStoreOptions
	stub := &stubStore{}
	newBucketStore = func(_ context.Context, _ *logger.Logger, cfg gcp.ObjectStorageConfig, opts gcp.BucketStoreOptions) (blob.Store, error) {
		captured, capturedOpts = cfg, opts
		return stub, nil
	}

	got, err := openArchiveStore(context.Background(), logger.NewNop(), Config{
		Storage: gcp.ObjectStorageConfig{
			Mode:         gcp.ObjectStorageModeGCSEmulator,
			EmulatorHost: "http://fake-gcs:4443",
			Bucket:       "datasets",
		},
		GCPProjectID: "moldline-dev",
	})
	if err != nil {
		t.Fatalf("openArchiveStore: %v", err)
	}
	if got != stub || !stub.ensured {
		t.Fatalf("store: expected ensured stub instance")
	}
	if captured.EmulatorHost != "http://fake-gcs:4443" || capturedOpts.ProjectID != "moldline-dev" {
		t.Fatalf("captured: cfg=%+v opts=%+v", captured, capturedOpts)
	}
}

func TestOpenArchiveStoreEnsureFailure(t *testing.T) {
	orig := newBucketStore
	t.Cleanup(func() { newBucketStore = orig })
	newBucketStore = func(context.Context, *logger.Logger, gcp.ObjectStorageConfig, gcp.BucketStoreOptions) (blob.Store, error) {
		return &stubStore{ensureErr: errors.New("connection refused")}, nil
	}

	_, err := openArchiveStore(context.Background(), logger.NewNop(), Config{
		Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS, Bucket: "datasets"},
	})
	if got := archiveStoreErrorCode(err); err == nil || got != ArchiveStoreUnreachable {
		t.Fatalf("code: want=%q got=%q (err=%v)", ArchiveStoreUnreachable, got, err)
	}
}

type stubStore struct {
	ensured   bool
	ensureErr error
}

func (s *stubStore) EnsureBucket(ctx context.Context) error {
	s.ensured = true
	return s.ensureErr
}

func (s *stubStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	return nil
}

func (s *stubStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *stubStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (s *stubStore) URI(key string) string {
	return "gs://datasets/" + key
}
