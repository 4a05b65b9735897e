// Package telemetry sets up OpenTelemetry metrics and tracing for crosstx.
//
// Metrics are exported in Prometheus format on /metrics. When telemetry is
// disabled every component receives no-op providers, so callers never need
// to check whether telemetry is on.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config holds the telemetry settings.
type Config struct {
	// Enabled toggles metrics and tracing.
	Enabled bool `yaml:"enabled"`
	// ServiceName appears on every metric and span.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is where /metrics is served. 0 disables the endpoint.
	PrometheusPort int `yaml:"prometheus_port"`
	// TraceSampleRatio is the fraction of transactions traced. Out-of-range
	// values mean 1.0.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Telemetry is the active set of providers.
type Telemetry struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *Metrics

	// Addr is the bound address of the /metrics endpoint, empty when not served.
	Addr string
}

// ShutdownFunc flushes and stops the providers.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes metrics and tracing according to cfg.
func Setup(cfg Config) (*Telemetry, ShutdownFunc, error) {
	if !cfg.Enabled {
		return Disabled(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	sampleRatio := cfg.TraceSampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1.0
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRatio)),
	)

	meter := meterProvider.Meter(cfg.ServiceName)
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tel := &Telemetry{
		Tracer:  tracerProvider.Tracer(cfg.ServiceName),
		Meter:   meter,
		Metrics: metrics,
	}

	var srv *http.Server
	if cfg.PrometheusPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.PrometheusPort))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen for metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		tel.Addr = fmt.Sprintf("localhost:%d", ln.Addr().(*net.TCPAddr).Port)
		go srv.Serve(ln)
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop metrics endpoint: %w", err))
			}
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
		return errors.Join(errs...)
	}

	return tel, shutdown, nil
}

// Disabled returns no-op providers.
func Disabled() *Telemetry {
	return &Telemetry{
		Tracer:  nooptrace.NewTracerProvider().Tracer(""),
		Meter:   noop.NewMeterProvider().Meter(""),
		Metrics: NoopMetrics(),
	}
}
