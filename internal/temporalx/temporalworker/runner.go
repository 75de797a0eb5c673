package temporalworker

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
	"github.com/yungbote/moldline-backend/internal/temporalx"
	"github.com/yungbote/moldline-backend/internal/temporalx/ingestwf"
)

const (
	defaultStartMaxWait = 60 * time.Second
)

// Runner polls the ingestion task queue.
type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	cfg  temporalx.Config
	acts *ingestwf.Activities

	newWorker func() worker.Worker
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, acts *ingestwf.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil || acts.Fetcher == nil || acts.Archiver == nil || acts.Loader == nil || acts.Cleaner == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{
		log:  log.With("service", "TemporalWorker"),
		tc:   tc,
		cfg:  cfg.Normalize(),
		acts: acts,
	}
	r.newWorker = r.buildWorker
	return r, nil
}

// Start retries worker start until it succeeds or DialMaxWait elapses. The
// worker stops when ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	maxWait := cfg.DialMaxWait
	if maxWait <= 0 {
		maxWait = defaultStartMaxWait
	}
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		missingNS := temporalx.IsNamespaceNotFound(startErr)
		if missingNS && cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", cfg.Namespace, "error", err)
			}
		}

		if time.Now().After(deadline) {
			if missingNS {
				return fmt.Errorf("ingest worker: namespace %s not found: %w", cfg.Namespace, startErr)
			}
			return fmt.Errorf("ingest worker: start on %s: %w", cfg.TaskQueue, startErr)
		}

		r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		t := time.NewTimer(temporalx.ClampBackoff(cfg.DialBackoff, cfg.DialBackoffMax, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Runner) buildWorker() worker.Worker {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		EnableSessionWorker:                    true,
	})
	ingestwf.Register(w, r.acts)
	return w
}
