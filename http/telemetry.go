package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryProviders bundles the trace, metric, and log SDK providers plus
// an slog Logger bridged onto the log provider; an embedder passes Logger
// and the function returned by ResultCounter into ServerConfig. Grounded
// on the reference repo's own OpenTelemetry wiring sample, which builds
// the same trio of OTLP/gRPC exporters against one resource; this makes
// the exporters optional (none is attached when no collector endpoint is
// configured) and stamps every resource with a per-process instance id
// instead of a fixed service name only.
type TelemetryProviders struct {
	Logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *log.LoggerProvider

	InstanceID uuid.UUID
}

// TelemetryConfig names the collector endpoint and service identity
// exported in every span, metric, and log record's resource attributes.
// An empty Endpoint builds the providers with no exporter attached, so
// nothing is exported.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP/gRPC collector address, e.g. "localhost:4317"
}

// NewTelemetryProviders builds the OTLP/gRPC exporter chain and SDK
// providers described by cfg, per SPEC_FULL.md §4.9. The returned
// shutdown function flushes and closes every exporter and must be called
// once during the embedder's own shutdown sequence.
func NewTelemetryProviders(ctx context.Context, cfg TelemetryConfig) (*TelemetryProviders, func(context.Context) error, error) {
	instanceID := uuid.New()

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(instanceID.String()),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("http: telemetry resource: %w", err)
	}

	if cfg.Endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		lp := log.NewLoggerProvider(log.WithResource(res))
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		global.SetLoggerProvider(lp)

		return &TelemetryProviders{
			Logger:         otelslog.NewLogger(cfg.ServiceName, otelslog.WithLoggerProvider(lp)),
			tracerProvider: tp,
			meterProvider:  mp,
			loggerProvider: lp,
			InstanceID:     instanceID,
		}, func(context.Context) error { return nil }, nil
	}

	traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("http: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("http: metric exporter: %w", err)
	}
	logExp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(cfg.Endpoint), otlploggrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("http: log exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)
	lp := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(logExp)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	shutdown := func(ctx context.Context) error {
		errs := make([]error, 0, 3)
		errs = append(errs, tp.Shutdown(ctx))
		errs = append(errs, mp.Shutdown(ctx))
		errs = append(errs, lp.Shutdown(ctx))
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
		return nil
	}

	return &TelemetryProviders{
		Logger:         otelslog.NewLogger(cfg.ServiceName, otelslog.WithLoggerProvider(lp)),
		tracerProvider: tp,
		meterProvider:  mp,
		loggerProvider: lp,
		InstanceID:     instanceID,
	}, shutdown, nil
}

// ResultCounter returns a function that adds delta to an int64 counter
// labeled by outcome. It fits ServerConfig.MetricsRecorder, which
// Server.recordResult calls once per parse/handling outcome.
func (t *TelemetryProviders) ResultCounter(ctx context.Context) (func(result string, delta int64), error) {
	meter := t.meterProvider.Meter("origin/http")
	counter, err := meter.Int64Counter("origin.http.requests",
		metric.WithDescription("count of requests by parse/handling outcome"))
	if err != nil {
		return nil, err
	}
	return func(result string, delta int64) {
		counter.Add(ctx, delta, metric.WithAttributes(attribute.String("result", result)))
	}, nil
}
