package instrumentation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Provider owns the OpenTelemetry SDK state for the server: the meter and
// tracer providers, the exporters behind them, the shared Metrics recorder
// and the audit logger. A disabled provider still hands out a usable
// *Metrics whose recorders do nothing, so callers never branch on the
// instrumentation state.
type Provider struct {
	config Config

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
	audit          *AuditLogger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewProvider initializes metrics and tracing according to config and
// installs the resulting providers as the process-wide OpenTelemetry
// defaults. The prometheus exporter registers on the default Prometheus
// registry, which the metrics endpoint serves through promhttp.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrumentation config: %w", err)
	}

	p := &Provider{
		config:  config,
		metrics: &Metrics{},
		audit:   NewAuditLogger(slog.Default()),
	}
	if !config.Enabled {
		return p, nil
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
	)

	reader, err := newMetricReader(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)

	metrics, err := NewMetrics(p.meterProvider.Meter(TracerName), config.DetailedLabels)
	if err != nil {
		_ = p.meterProvider.Shutdown(ctx)
		return nil, err
	}
	p.metrics = metrics

	if config.TracingExporter != "none" {
		exporter, err := newTraceExporter(ctx, config)
		if err != nil {
			_ = p.meterProvider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(
				sdktrace.TraceIDRatioBased(config.TraceSamplingRate),
			)),
		)
		otel.SetTracerProvider(p.tracerProvider)
	}

	return p, nil
}

// Enabled reports whether instrumentation was switched on at construction.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}

// Metrics returns the shared metrics recorder. It is never nil; with a
// disabled provider every recording is a no-op.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// AuditLogger returns the audit logger for API operations. Audit logging is
// independent of the metrics and tracing state.
func (p *Provider) AuditLogger() *AuditLogger {
	return p.audit
}

// MetricsPath returns the HTTP path the Prometheus endpoint should serve on.
func (p *Provider) MetricsPath() string {
	return p.config.PrometheusEndpoint
}

// Shutdown flushes and stops the underlying providers. It is safe to call
// more than once and from a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		var errs *multierror.Error
		if p.tracerProvider != nil {
			if err := p.tracerProvider.Shutdown(ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if p.meterProvider != nil {
			if err := p.meterProvider.Shutdown(ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		p.shutdownErr = errs.ErrorOrNil()
	})
	return p.shutdownErr
}

// newMetricReader builds the reader for the configured metrics exporter.
// The prometheus exporter is itself a pull-based reader; push exporters are
// wrapped in a periodic reader.
func newMetricReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	switch config.MetricsExporter {
	case "prometheus":
		return otelprom.New()
	case "otlp":
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpHost(config.OTLPEndpoint)),
		}
		if otlpInsecure(config) {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	case "stdout":
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	}
	return nil, fmt.Errorf("unknown metrics exporter %q", config.MetricsExporter)
}

// newTraceExporter builds the span exporter for the configured tracing
// backend. "none" never reaches here.
func newTraceExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	switch config.TracingExporter {
	case "otlp":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpHost(config.OTLPEndpoint)),
		}
		if otlpInsecure(config) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New()
	}
	return nil, fmt.Errorf("unknown tracing exporter %q", config.TracingExporter)
}

// otlpHost reduces a configured endpoint URL to the host:port form the OTLP
// HTTP exporters expect.
func otlpHost(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// otlpInsecure reports whether the exporter should skip TLS, either because
// the operator asked for it or the endpoint is explicitly plain HTTP.
func otlpInsecure(config Config) bool {
	return config.OTLPInsecure || strings.HasPrefix(config.OTLPEndpoint, "http://")
}
