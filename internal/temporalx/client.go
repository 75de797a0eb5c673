package temporalx

import (
	"context"
	"errors"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// NewClient dials the Temporal frontend that hosts the ingestion workflow.
// It returns nil, nil when no address is configured so callers can fall
// back to in-process ingestion. Dial failures are retried until
// cfg.DialMaxWait elapses, then the namespace is registered when
// AutoRegisterNamespace is set.
func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (temporalsdkclient.Client, error) {
	cfg = cfg.Normalize()
	if log == nil {
		log = logger.NewNop()
	}
	if !cfg.Enabled() {
		log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log = log.With("address", cfg.Address, "namespace", cfg.Namespace)

	opts, err := clientOptions(log, cfg)
	if err != nil {
		return nil, err
	}
	opts.Namespace = cfg.Namespace

	var c temporalsdkclient.Client
	deadline := time.Now().Add(cfg.DialMaxWait)
	err = retryUntil(ctx, cfg, deadline, func(attempt int) (bool, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		var derr error
		if c, derr = temporalsdkclient.DialContext(dialCtx, opts); derr != nil {
			log.Warn("Temporal not reachable", "attempt", attempt, "error", derr)
			return true, derr
		}
		if attempt > 1 {
			log.Info("Connected to Temporal", "attempts", attempt)
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dial %s/%s: %w", cfg.Address, cfg.Namespace, err)
	}

	if cfg.AutoRegisterNamespace {
		if err := EnsureNamespace(ctx, cfg, log); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func clientOptions(log *logger.Logger, cfg Config) (temporalsdkclient.Options, error) {
	opts := temporalsdkclient.Options{HostPort: cfg.Address}
	if log != nil {
		var l temporallog.Logger = log.With("component", "temporal")
		opts.Logger = l
	}
	if !cfg.tlsEnabled() {
		return opts, nil
	}
	tlsCfg, err := loadTLSConfig(cfg)
	if err != nil {
		return opts, err
	}
	opts.ConnectionOptions.TLS = tlsCfg
	return opts, nil
}

// retryUntil calls fn until it succeeds, reports a permanent failure, or
// deadline passes. fn returns retry=true for transient errors. The last
// error is returned when attempts run out.
func retryUntil(ctx context.Context, cfg Config, deadline time.Time, fn func(attempt int) (retry bool, err error)) error {
	for attempt := 1; ; attempt++ {
		retry, err := fn(attempt)
		if err == nil || !retry {
			return err
		}
		if !time.Now().Before(deadline) {
			return err
		}
		if serr := sleepCtx(ctx, ClampBackoff(cfg.DialBackoff, cfg.DialBackoffMax, attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// ClampBackoff is base doubled once per attempt after the first, capped at
// max when max is positive.
func ClampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base
	for n := 1; n < attempt; n++ {
		if max > 0 && d >= max {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

// isRetryableRPC treats an unavailable or overloaded frontend and startup
// deadlines as transient.
func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return true
		}
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
