package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/moldline-backend/internal/data/db"
	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
	"github.com/yungbote/moldline-backend/internal/platform/redislock"
	"github.com/yungbote/moldline-backend/internal/temporalx"
)

type Clients struct {
	Postgres *db.PostgresService
	Store    blob.Store
	Locker   *redislock.Locker
	// Temporal is nil when TEMPORAL_ADDRESS is unset or the app runs local.
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, opts Options) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	pg, err := db.NewPostgresService(ctx, log, cfg.Postgres)
	if err != nil {
		return c, fmt.Errorf("init postgres: %w", err)
	}
	c.Postgres = pg
	if err := pg.AutoMigrateAll(); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("postgres automigrate: %w", err)
	}

	store, err := openArchiveStore(ctx, log, cfg)
	if err != nil {
		c.Close()
		return Clients{}, err
	}
	c.Store = store

	locker, err := redislock.New(ctx, log, redislock.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.IngestLockTTL,
	})
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init redis lock: %w", err)
	}
	if locker == nil {
		log.Warn("REDIS_ADDR not set; ingest load lock disabled")
	}
	c.Locker = locker

	if !opts.Local {
		tc, err := temporalx.NewClient(ctx, log, cfg.Temporal)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init temporal: %w", err)
		}
		c.Temporal = tc
	}
	return c, nil
}

func (c Clients) Close() {
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Locker != nil {
		_ = c.Locker.Close()
	}
	if closer, ok := c.Store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if c.Postgres != nil {
		_ = c.Postgres.Close()
	}
}
