package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/ingest"
	"github.com/yungbote/moldline-backend/internal/observability"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
	"github.com/yungbote/moldline-backend/internal/services"
	"github.com/yungbote/moldline-backend/internal/temporalx/ingestwf"
	"github.com/yungbote/moldline-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Activities *ingestwf.Activities
	// Controller is the Temporal workflow client when Temporal is
	// configured and the in-process runner otherwise.
	Controller ingest.Controller
	// Worker is nil without a Temporal client.
	Worker    *temporalworker.Runner
	Analytics services.AnalyticsService
}

func wireServices(log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	var obs ingest.Observer
	if cfg.MetricsEnabled {
		m, err := observability.NewIngestMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return Services{}, err
		}
		obs = m
	}

	gdb := clients.Postgres.DB()
	products := quality.NewProductRepo(gdb, log)

	acts := &ingestwf.Activities{
		Log: log,
		Fetcher: ingest.NewFetcher(log, ingest.FetcherConfig{
			ScratchDir:     cfg.ScratchDir,
			AttemptTimeout: cfg.FetchAttemptTimeout,
			MaxAttempts:    cfg.FetchMaxAttempts,
			BackoffBase:    cfg.FetchBackoffBase,
		}, obs),
		Archiver: ingest.NewArchiver(log, clients.Store, obs),
		Loader: ingest.NewLoader(log, ingest.LoaderDeps{
			DB:       gdb,
			Products: products,
			Store:    clients.Store,
			Locker:   clients.Locker,
		}, ingest.LoaderConfig{BatchSize: cfg.LoadBatchSize}, obs),
		Cleaner: ingest.NewCleaner(log, obs),
	}

	out := Services{
		Activities: acts,
		Analytics:  services.NewAnalyticsService(log, quality.NewAnalyticsRepo(gdb, log), products),
	}

	policies := ingest.DefaultPolicies()
	if clients.Temporal == nil {
		log.Info("Using in-process ingestion controller")
		out.Controller = ingest.NewRunner(log, ingest.RunnerDeps{
			Fetcher:  acts.Fetcher,
			Archiver: acts.Archiver,
			Loader:   acts.Loader,
			Cleaner:  acts.Cleaner,
		}, policies, obs)
		return out, nil
	}

	ctrl, err := ingestwf.NewController(log, clients.Temporal, cfg.Temporal.TaskQueue, policies)
	if err != nil {
		return Services{}, fmt.Errorf("init ingest controller: %w", err)
	}
	out.Controller = ctrl
	worker, err := temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, acts)
	if err != nil {
		return Services{}, fmt.Errorf("init temporal worker: %w", err)
	}
	out.Worker = worker
	return out, nil
}
