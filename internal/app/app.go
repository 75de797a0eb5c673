package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	apphttp "github.com/yungbote/moldline-backend/internal/http"
	"github.com/yungbote/moldline-backend/internal/observability"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

type Options struct {
	// Local drives ingestion in-process and skips dialing Temporal.
	Local bool
}

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
	Server   *apphttp.Server

	shutdownOtel func(context.Context) error
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownOtel := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg, opts)
	if err != nil {
		_ = shutdownOtel(context.Background())
		log.Sync()
		return nil, err
	}

	svcs, err := wireServices(log, cfg, clients)
	if err != nil {
		clients.Close()
		_ = shutdownOtel(context.Background())
		log.Sync()
		return nil, err
	}

	server, err := wireServer(log, cfg, clients, svcs)
	if err != nil {
		clients.Close()
		_ = shutdownOtel(context.Background())
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Services:     svcs,
		Server:       server,
		shutdownOtel: shutdownOtel,
	}, nil
}

// Run serves the API and, when RUN_WORKER is set and Temporal is
// configured, the ingestion worker. It returns when ctx is done or either
// side fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	addr := net.JoinHostPort("", a.Cfg.Port)
	g.Go(func() error {
		a.Log.Info("Serving analytics API", "address", addr)
		return a.Server.Run(gctx, addr)
	})

	if a.Cfg.RunWorker && a.Services.Worker != nil {
		g.Go(func() error {
			if err := a.Services.Worker.Start(gctx); err != nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	} else if a.Cfg.RunWorker {
		a.Log.Warn("RUN_WORKER set but Temporal is not configured; worker not started")
	}

	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownOtel(ctx); err != nil && a.Log != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
