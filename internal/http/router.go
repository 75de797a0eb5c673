package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/moldline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/moldline-backend/internal/http/middleware"
	"github.com/yungbote/moldline-backend/internal/observability"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.APIMetrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	HealthHandler    *httpH.HealthHandler
	AnalyticsHandler *httpH.AnalyticsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics"))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	analytics := r.Group("/api/v1/analytics")
	if h := cfg.AnalyticsHandler; h != nil {
		analytics.GET("/machines", h.Machines)
		analytics.GET("/defect-rate-trend", h.DefectRateTrend)
		analytics.GET("/machine-defect-heatmap", h.MachineDefectHeatmap)
		analytics.GET("/top-defects", h.TopDefects)
		analytics.GET("/machine-comparison", h.MachineComparison)
		analytics.GET("/defect-distribution", h.DefectDistribution)
		analytics.GET("/cycle-time-scatter", h.CycleTimeScatter)
		analytics.GET("/product/:id/defects", h.ProductDefects)
	}

	return r
}
