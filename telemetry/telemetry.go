// Package telemetry configures OpenTelemetry metrics for pgreactor,
// grounded on the teacher's lib/telemetry package. Tracing is
// deliberately not wired here: the module's dependency surface carries
// otlpmetrichttp but not otlptracehttp/sdktrace, so a tracer provider
// would be an invented dependency rather than one grounded in the
// corpus (see DESIGN.md).
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls where (and whether) metrics are exported.
type Config struct {
	// OTLPEndpoint is the collector endpoint, e.g. "http://localhost:4318".
	// Empty disables export: Init returns a no-op meter provider.
	OTLPEndpoint string
	// ServiceName tags the exported resource; defaults to "pgreactor".
	ServiceName string
	// ExportInterval controls the periodic reader's push interval.
	ExportInterval time.Duration
}

// Providers groups the provider handle engine instrumentation reads from.
type Providers struct {
	MeterProvider apimetric.MeterProvider
}

// Init configures an OTLP/HTTP metric exporter per cfg, or a no-op
// provider when no endpoint is configured.
func Init(ctx context.Context, cfg Config) (Providers, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "pgreactor"
	}

	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return Providers{MeterProvider: mp}, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return Providers{}, nil, err
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return Providers{}, nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return Providers{}, nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}
	return Providers{MeterProvider: mp}, shutdown, nil
}

func parseEndpoint(raw string) (host string, insecure bool, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("telemetry: parse otlp endpoint: %w", err)
	}
	host = parsed.Host
	if host == "" {
		host = raw
	}
	insecure = parsed.Scheme != "https"
	return host, insecure, nil
}
