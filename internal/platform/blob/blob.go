// Package blob defines the key to bytes content store used for dataset
// archives, plus a filesystem implementation for local runs.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("blob: object not found")
	// ErrRejected marks writes the store refused (permissions, bad request).
	ErrRejected = errors.New("blob: write rejected")
	// ErrUnavailable marks transport or backend failures worth retrying.
	ErrUnavailable = errors.New("blob: store unavailable")
)

// Store is a content store keyed by opaque string keys.
type Store interface {
	// EnsureBucket creates the destination container when absent. A
	// concurrent creator winning the race is not an error.
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// URI is the canonical location of key, e.g. gs://bucket/key.
	URI(key string) string
}
