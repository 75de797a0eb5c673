package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	apphttp "github.com/yungbote/moldline-backend/internal/http"
	httpH "github.com/yungbote/moldline-backend/internal/http/handlers"
	"github.com/yungbote/moldline-backend/internal/observability"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, clients Clients, svcs Services) (*apphttp.Server, error) {
	log.Info("Wiring HTTP server...")

	sqlDB, err := clients.Postgres.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	routerCfg := apphttp.RouterConfig{
		Log:              log,
		CORSOrigins:      cfg.CORSOrigins,
		HealthHandler:    httpH.NewHealthHandler(sqlDB),
		AnalyticsHandler: httpH.NewAnalyticsHandler(log, svcs.Analytics),
	}
	if cfg.Otel.Enabled {
		routerCfg.ServiceName = cfg.Otel.ServiceName
	}
	if cfg.MetricsEnabled {
		m, err := observability.NewAPIMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		routerCfg.Metrics = m
		routerCfg.MetricsHandler = observability.Handler()
	}
	return apphttp.NewServer(routerCfg), nil
}
