// Package instrumentation provides OpenTelemetry instrumentation for the
// SLATE API server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, CLI tool invocations, cache
//     behavior and child process tracking
//   - Distributed tracing for API operation flows
//   - Prometheus metrics export via the /metrics endpoint
//   - OTLP export support for modern observability platforms
//   - Structured audit logging of API operations
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Tool invocation metrics (helm and kubectl child processes):
//   - slate_tool_invocations_total: Counter of CLI invocations by tool and status
//   - slate_tool_invocation_duration_seconds: Histogram of CLI invocation durations
//   - slate_child_processes: Gauge of currently running child processes
//
// Catalog cache metrics:
//   - slate_cache_hits_total: Counter of cache hits by tier
//   - slate_cache_misses_total: Counter of cache misses by tier
//   - slate_cache_evictions_total: Counter of cache evictions by tier
//
// Authentication metrics:
//   - slate_auth_failures_total: Counter of rejected requests by reason
//
// # Cardinality Considerations
//
// Label sets are deliberately bounded: request paths are normalized before
// recording (resource identifiers collapse to {id}), tools are limited to
// helm and kubectl, cache tiers are a fixed set, and user, group, cluster
// and instance names never become metric labels. Full-fidelity identities
// go to the audit log instead, where they belong.
//
// High cardinality would lead to:
//   - Increased memory usage in metrics backends
//   - Slower query performance
//   - Higher storage costs
//
// # Tracing
//
// Distributed tracing spans are created for API operations at the handler
// boundary. Spans carry operation, group, cluster and instance attributes
// and propagate their trace context into audit records for correlation.
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - METRICS_DETAILED_LABELS: Attach per-verb labels to tool metrics (default: false)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: slate-api-server)
//
// # Example Usage
//
//	// Initialize instrumentation
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:    "slate-api-server",
//		ServiceVersion: "0.1.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	// Get metrics recorder
//	recorder := provider.Metrics()
//
//	// Record an HTTP request
//	recorder.RecordHTTPRequest(ctx, "POST", "/v1alpha3/apps/{id}", 200, time.Since(start))
//
//	// Record a tool invocation
//	recorder.RecordToolInvocation(ctx, "helm", "install", "success", time.Since(start))
package instrumentation
