package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const objectIOTimeout = 2 * time.Minute

// BucketStore is a blob.Store backed by a single GCS bucket.
type BucketStore struct {
	log       *logger.Logger
	client    *storage.Client
	bucket    string
	projectID string
	mode      ObjectStorageMode

	ensureMu sync.Mutex
	ensured  bool
}

var _ blob.Store = (*BucketStore)(nil)

type BucketStoreOptions struct {
	ProjectID   string
	Credentials string
}

func NewBucketStore(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig, opts BucketStoreOptions) (*BucketStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Mode.UsesBucket() {
		return nil, fmt.Errorf("bucket store: mode %q is not a GCS mode", cfg.Mode)
	}
	client, err := newStorageClientForMode(ctx, cfg, opts.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	projectID := strings.TrimSpace(opts.ProjectID)
	if projectID == "" && cfg.Mode == ObjectStorageModeGCSEmulator {
		projectID = "moldline-local"
	}
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("Object storage configured",
		"mode", cfg.Mode,
		"source", cfg.Source(),
		"location", cfg.Location(),
	)
	return &BucketStore{
		log:       log.With("service", "BucketStore"),
		client:    client,
		bucket:    cfg.Bucket,
		projectID: projectID,
		mode:      cfg.Mode,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig, creds string) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptions(creds)
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

func (s *BucketStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *BucketStore) EnsureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, objectIOTimeout)
	defer cancel()

	bkt := s.client.Bucket(s.bucket)
	_, err := bkt.Attrs(ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrBucketNotExist):
		if s.projectID == "" {
			return fmt.Errorf("%w: bucket %q missing and no project configured", blob.ErrRejected, s.bucket)
		}
		if cerr := bkt.Create(ctx, s.projectID, nil); cerr != nil && !isConflict(cerr) {
			return classify(cerr, "create bucket "+s.bucket)
		}
		s.log.Info("Created dataset bucket", "bucket", s.bucket)
	default:
		return classify(err, "bucket attrs "+s.bucket)
	}
	s.ensured = true
	return nil
}

func (s *BucketStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, objectIOTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	// Closing a Writer finalizes the object; cancelling its context first
	// discards the upload so no partial object lands on the key.
	abort := func() {
		cancel()
		_ = w.Close()
	}
	n, err := io.Copy(w, body)
	if err != nil {
		abort()
		return classify(err, "write "+key)
	}
	if size >= 0 && n != size {
		abort()
		return fmt.Errorf("%w: short write for %s (%d of %d bytes)", blob.ErrRejected, key, n, size)
	}
	if err := w.Close(); err != nil {
		return classify(err, "close writer "+key)
	}
	return nil
}

// Get returns a reader whose context stays alive until Close.
func (s *BucketStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, objectIOTimeout)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", blob.ErrNotFound, s.bucket, key)
		}
		return nil, classify(err, "open reader "+key)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *BucketStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, objectIOTimeout)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify(err, "attrs "+key)
	}
	return true, nil
}

func (s *BucketStore) URI(key string) string {
	return ObjectURI(s.bucket, key)
}

func ObjectURI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimLeft(key, "/"))
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".csv"):
		return "text/csv"
	default:
		return ""
	}
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusConflict
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// classify maps client errors onto blob sentinels. 4xx other than 408/429
// means the store refused the request; everything else is treated as
// transient.
func classify(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusRequestTimeout, gerr.Code == http.StatusTooManyRequests:
		case gerr.Code >= 400 && gerr.Code < 500:
			return fmt.Errorf("%w: %s: %w", blob.ErrRejected, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", blob.ErrUnavailable, op, err)
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
