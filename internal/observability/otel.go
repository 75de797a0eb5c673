package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const (
	defaultServiceName = "moldline"
	defaultSampleRatio = 0.1
	batchTimeout       = 5 * time.Second
)

// OtelConfig controls tracing for the API and the ingestion stages.
type OtelConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
	Version     string
	// Endpoint is an OTLP/HTTP collector; spans go to stdout without one.
	Endpoint string
	// Headers is a comma separated list of key=value pairs.
	Headers     string
	Insecure    bool
	SampleRatio float64
}

func (c OtelConfig) serviceName() string {
	if s := strings.TrimSpace(c.ServiceName); s != "" {
		return s
	}
	return defaultServiceName
}

// sampleRatio keeps the ratio in (0, 1]; unset means 10%.
func (c OtelConfig) sampleRatio() float64 {
	switch {
	case c.SampleRatio <= 0:
		return defaultSampleRatio
	case c.SampleRatio > 1:
		return 1
	}
	return c.SampleRatio
}

// headers parses "k1=v1,k2=v2", skipping malformed or empty pairs.
func (c OtelConfig) headers() map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(c.Headers, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func noopShutdown(context.Context) error { return nil }

var (
	otelOnce     sync.Once
	otelShutdown = noopShutdown
)

// InitOTel installs the global tracer provider and W3C propagators once per
// process. Exporter or resource failures are logged and tracing continues
// with what could be built. The returned shutdown func is never nil.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	if log == nil {
		log = logger.NewNop()
	}
	otelOnce.Do(func() {
		if !cfg.Enabled {
			return
		}
		tp := newTracerProvider(ctx, log, cfg)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otelShutdown = tp.Shutdown
		log.Info("OTel tracing initialized", "service", cfg.serviceName(), "endpoint", cfg.Endpoint, "sample_ratio", cfg.sampleRatio())
	})
	return otelShutdown
}

func newTracerProvider(ctx context.Context, log *logger.Logger, cfg OtelConfig) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio()))),
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.serviceName()),
		semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
	))
	if err != nil {
		log.Warn("OTel resource incomplete", "error", err)
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		log.Warn("OTel exporter unavailable; spans will not be exported", "error", err)
	} else {
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(batchTimeout)))
	}
	return sdktrace.NewTracerProvider(opts...)
}

func newSpanExporter(ctx context.Context, cfg OtelConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if h := cfg.headers(); h != nil {
		opts = append(opts, otlptracehttp.WithHeaders(h))
	}
	return otlptracehttp.New(ctx, opts...)
}
