package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	crdb "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const (
	DefaultFetchAttemptTimeout = 300 * time.Second
	DefaultFetchMaxAttempts    = 3
	DefaultFetchBackoffBase    = 2 * time.Second
)

// browserHeaders are sent on every remote fetch; some dataset hosts refuse
// requests that do not look like a browser. Accept-Encoding is left to the
// transport so gzip bodies are decoded transparently.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Accept":                    "application/json, text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Cache-Control":             "max-age=0",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

type FetcherConfig struct {
	ScratchDir     string
	AttemptTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	HTTPClient     *http.Client
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultFetchAttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultFetchMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultFetchBackoffBase
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

type Fetcher struct {
	log     *logger.Logger
	cfg     FetcherConfig
	obs     Observer
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewFetcher(log *logger.Logger, cfg FetcherConfig, obs Observer) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{
		log:     log.With("service", "Fetcher"),
		cfg:     cfg.withDefaults(),
		obs:     observerOrNop(obs),
		sleepFn: sleepCtx,
	}
}

// Fetch retrieves source into a scratch file (or reads it in place when it
// is local) and computes its SHA-256 digest.
func (f *Fetcher) Fetch(ctx context.Context, source string) (handle DatasetHandle, err error) {
	ctx, span := startSpan(ctx, "ingest.fetch", attribute.String("source", logger.StripURLSecrets(source)))
	started := time.Now()
	defer func() {
		f.obs.RecordStage(string(StageFetch), time.Since(started), kindLabel(err))
		endSpan(span, err)
	}()

	src, rerr := resolveSource(source)
	if rerr != nil {
		return DatasetHandle{}, &FetchError{Kind: KindTransport, Err: rerr}
	}
	if src.kind == sourceLocal {
		return f.fetchLocal(ctx, source, src.location)
	}
	return f.fetchRemote(ctx, source, src.location)
}

func (f *Fetcher) fetchLocal(ctx context.Context, source, path string) (DatasetHandle, error) {
	if err := ctx.Err(); err != nil {
		return DatasetHandle{}, &FetchError{Kind: KindCanceled, Err: err}
	}
	f.log.Info("Reading local dataset", "path", path)
	file, err := os.Open(path)
	if err != nil {
		return DatasetHandle{}, &FetchError{Kind: KindLocalReadFailure, Err: crdb.Wrap(err, "open local dataset")}
	}
	defer file.Close()

	h := sha256.New()
	n, err := io.Copy(h, file)
	if err != nil {
		return DatasetHandle{}, &FetchError{Kind: KindLocalReadFailure, Err: crdb.Wrap(err, "read local dataset")}
	}
	handle := DatasetHandle{
		Source:     source,
		Digest:     hex.EncodeToString(h.Sum(nil)),
		SizeBytes:  n,
		StorageRef: path,
	}
	f.obs.RecordFetchedBytes(n)
	f.log.Info("Local dataset read", "size_bytes", n, "digest", shortDigest(handle.Digest))
	return handle, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", e.code, http.StatusText(e.code))
}

func (f *Fetcher) fetchRemote(ctx context.Context, source, rawURL string) (DatasetHandle, error) {
	scratch, err := os.CreateTemp(f.cfg.ScratchDir, "dataset-*.json")
	if err != nil {
		return DatasetHandle{}, &FetchError{Kind: KindTransport, Err: crdb.Wrap(err, "create scratch file")}
	}
	keep := false
	defer func() {
		_ = scratch.Close()
		if !keep {
			_ = os.Remove(scratch.Name())
		}
	}()

	var lastErr error
	attempts := f.cfg.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		f.log.Info("Download attempt", "attempt", attempt, "max_attempts", attempts, "url", rawURL)
		n, digest, err := f.fetchOnce(ctx, rawURL, scratch)
		if err == nil {
			f.obs.RecordFetchAttempt("success")
			f.obs.RecordFetchedBytes(n)
			if err := scratch.Sync(); err != nil {
				return DatasetHandle{}, &FetchError{Kind: KindTransport, Err: crdb.Wrap(err, "sync scratch file")}
			}
			keep = true
			f.log.Info("Downloaded dataset", "size_bytes", n, "digest", shortDigest(digest), "attempt", attempt)
			return DatasetHandle{
				Source:     source,
				Digest:     digest,
				SizeBytes:  n,
				StorageRef: scratch.Name(),
				Scratch:    true,
			}, nil
		}
		f.obs.RecordFetchAttempt("error")
		lastErr = err
		if ctx.Err() != nil {
			return DatasetHandle{}, &FetchError{Kind: KindCanceled, Err: ctx.Err()}
		}
		if attempt == attempts {
			break
		}
		delay := f.cfg.BackoffBase << (attempt - 1)
		f.log.Warn("Download attempt failed, retrying", "attempt", attempt, "retry_in", delay.String(), "error", err)
		if err := f.sleepFn(ctx, delay); err != nil {
			return DatasetHandle{}, &FetchError{Kind: KindCanceled, Err: err}
		}
	}
	f.log.Error("All download attempts failed", "attempts", attempts, "error", lastErr)
	return DatasetHandle{}, &FetchError{
		Kind: classifyFetchError(lastErr),
		Err:  crdb.Wrapf(lastErr, "download failed after %d attempts", attempts),
	}
}

// fetchOnce performs one bounded GET, streaming the body into w while
// hashing it. w is truncated first so a retry never appends to a partial
// body.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, w *os.File) (int64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	if err := w.Truncate(0); err != nil {
		return 0, "", err
	}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, "", &statusError{code: resp.StatusCode}
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), resp.Body)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func classifyFetchError(err error) ErrorKind {
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusGone) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return strings.TrimSpace(d)
}
