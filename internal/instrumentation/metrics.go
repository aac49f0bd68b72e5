package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	// Common attributes (reused across metrics)
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrTool   = "tool"
	attrVerb   = "verb"
	attrTier   = "tier"
	attrReason = "reason"
)

// Metrics provides methods for recording observability metrics.
//
// The zero value is valid and records nothing; every recorder checks its
// instruments before use, so a disabled provider can hand out the same type.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Tool invocation metrics (helm / kubectl child processes)
	toolInvocationsTotal   metric.Int64Counter
	toolInvocationDuration metric.Float64Histogram
	childProcesses         metric.Int64UpDownCounter

	// Catalog cache metrics
	cacheHitsTotal      metric.Int64Counter
	cacheMissesTotal    metric.Int64Counter
	cacheEvictionsTotal metric.Int64Counter

	// Authentication metrics
	authFailuresTotal metric.Int64Counter

	// detailedLabels controls whether tool invocation metrics carry the
	// per-verb label
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether the per-verb label is
// attached to tool invocation metrics.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	// Tool Invocation Metrics
	m.toolInvocationsTotal, err = meter.Int64Counter(
		"slate_tool_invocations_total",
		metric.WithDescription("Total number of helm and kubectl invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_tool_invocations_total counter: %w", err)
	}

	// The upper buckets reach the five minute invocation ceiling; helm
	// installs of heavyweight charts land there.
	m.toolInvocationDuration, err = meter.Float64Histogram(
		"slate_tool_invocation_duration_seconds",
		metric.WithDescription("Helm and kubectl invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0, 300.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_tool_invocation_duration_seconds histogram: %w", err)
	}

	m.childProcesses, err = meter.Int64UpDownCounter(
		"slate_child_processes",
		metric.WithDescription("Number of running child processes"),
		metric.WithUnit("{process}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_child_processes gauge: %w", err)
	}

	// Catalog Cache Metrics
	m.cacheHitsTotal, err = meter.Int64Counter(
		"slate_cache_hits_total",
		metric.WithDescription("Total number of catalog cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_cache_hits_total counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"slate_cache_misses_total",
		metric.WithDescription("Total number of catalog cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_cache_misses_total counter: %w", err)
	}

	m.cacheEvictionsTotal, err = meter.Int64Counter(
		"slate_cache_evictions_total",
		metric.WithDescription("Total number of catalog cache evictions"),
		metric.WithUnit("{eviction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_cache_evictions_total counter: %w", err)
	}

	// Authentication Metrics
	m.authFailuresTotal, err = meter.Int64Counter(
		"slate_auth_failures_total",
		metric.WithDescription("Total number of rejected API requests by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slate_auth_failures_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
// The path must be normalized before recording; see NormalizePath.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolInvocation records one helm or kubectl run with its outcome and
// duration. It satisfies the kube package's MetricsRecorder.
//
// CARDINALITY NOTE: The verb label (install, delete, get, ...) is only
// attached when detailed labels are enabled. Tool and status always are;
// both have a fixed value set.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, verb, status string, elapsed time.Duration) {
	if m.toolInvocationsTotal == nil || m.toolInvocationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrVerb, verb))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolInvocationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAuthFailure records a rejected API request. Reason should be one of
// the AuthFailure* constants.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m.authFailuresTotal == nil {
		return // Instrumentation not initialized
	}

	m.authFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrReason, reason),
	))
}

// CacheHit records a catalog cache hit for a tier. Together with CacheMiss
// and CacheEviction it satisfies the store package's MetricsRecorder, whose
// call sites carry no context.
func (m *Metrics) CacheHit(tier string) {
	if m.cacheHitsTotal == nil {
		return // Instrumentation not initialized
	}

	m.cacheHitsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrTier, tier),
	))
}

// CacheMiss records a catalog cache miss for a tier.
func (m *Metrics) CacheMiss(tier string) {
	if m.cacheMissesTotal == nil {
		return // Instrumentation not initialized
	}

	m.cacheMissesTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrTier, tier),
	))
}

// CacheEviction records a catalog cache eviction for a tier.
func (m *Metrics) CacheEviction(tier string) {
	if m.cacheEvictionsTotal == nil {
		return // Instrumentation not initialized
	}

	m.cacheEvictionsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrTier, tier),
	))
}

// ChildStarted increments the child process gauge. Together with ChildExited
// it satisfies the proc package's MetricsRecorder.
func (m *Metrics) ChildStarted() {
	if m.childProcesses == nil {
		return // Instrumentation not initialized
	}

	m.childProcesses.Add(context.Background(), 1)
}

// ChildExited decrements the child process gauge.
func (m *Metrics) ChildExited() {
	if m.childProcesses == nil {
		return // Instrumentation not initialized
	}

	m.childProcesses.Add(context.Background(), -1)
}
