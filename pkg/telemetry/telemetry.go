package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/installments/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("telemetry",
	fx.Provide(NewTracerProvider),
	fx.Invoke(func(trace.TracerProvider) {}),
)

// NewTracerProvider exports spans to the configured OTLP collector and
// installs the provider globally. Without an endpoint a no-op provider is
// returned and nothing is exported.
func NewTracerProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (trace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.TracingEnabled() {
		log.Info("tracing disabled")
		return noop.NewTracerProvider(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := NewProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(serviceResource(cfg)))
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down tracer provider")
			return tp.Shutdown(ctx)
		},
	})

	log.Info("telemetry initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp, nil
}

// NewProvider builds an sdk provider that tags every span with the request
// id carried in baggage.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithSpanProcessor(requestIDProcessor{}))
	return sdktrace.NewTracerProvider(opts...)
}

func serviceResource(cfg config.Config) *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
}

type requestIDProcessor struct{}

func (requestIDProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if id := strings.TrimSpace(RequestIDFromBaggage(ctx)); id != "" {
		s.SetAttributes(attribute.String("request_id", id))
	}
}

func (requestIDProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (requestIDProcessor) Shutdown(context.Context) error { return nil }

func (requestIDProcessor) ForceFlush(context.Context) error { return nil }
