package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name for this server.
const TracerName = "github.com/slateci/slate-api-server"

// Span attribute keys for API operations.
const (
	// SpanAttrOperation is the API operation name, e.g. "instance.install".
	SpanAttrOperation = "slate.operation"

	// SpanAttrGroup is the group name an operation acts for.
	SpanAttrGroup = "slate.group"

	// SpanAttrCluster is the target cluster name.
	SpanAttrCluster = "slate.cluster"

	// SpanAttrInstance is the application instance identifier.
	SpanAttrInstance = "slate.instance"

	// SpanAttrApplication is the catalog application name.
	SpanAttrApplication = "slate.application"

	// SpanAttrUserDomain is the caller's email domain (never the full address).
	SpanAttrUserDomain = "slate.user.domain"

	// SpanAttrForce marks a forced deletion.
	SpanAttrForce = "slate.force"

	// SpanAttrNamespace is the Kubernetes namespace an operation touches.
	SpanAttrNamespace = "k8s.namespace"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming and cardinality controls.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

// WithOperation adds the API operation name attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithGroup adds the group name attribute when present.
func (b *SpanAttributeBuilder) WithGroup(group string) *SpanAttributeBuilder {
	if group != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrGroup, group))
	}
	return b
}

// WithCluster adds the cluster name attribute when present.
func (b *SpanAttributeBuilder) WithCluster(cluster string) *SpanAttributeBuilder {
	if cluster != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrCluster, cluster))
	}
	return b
}

// WithInstance adds the instance identifier attribute when present.
func (b *SpanAttributeBuilder) WithInstance(instance string) *SpanAttributeBuilder {
	if instance != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrInstance, instance))
	}
	return b
}

// WithApplication adds the application name attribute when present.
func (b *SpanAttributeBuilder) WithApplication(application string) *SpanAttributeBuilder {
	if application != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrApplication, application))
	}
	return b
}

// WithUser adds the caller's email domain. The full address stays out of
// span attributes; the audit log carries it.
func (b *SpanAttributeBuilder) WithUser(email string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrUserDomain, ExtractUserDomain(email)))
	return b
}

// WithForce marks the span as a forced deletion.
func (b *SpanAttributeBuilder) WithForce(force bool) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Bool(SpanAttrForce, force))
	return b
}

// WithNamespace adds the Kubernetes namespace attribute when present.
func (b *SpanAttributeBuilder) WithNamespace(namespace string) *SpanAttributeBuilder {
	if namespace != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrNamespace, namespace))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartOperationSpan starts a span for an API operation. The operation name
// is attached as an attribute and prefixed into the span name.
func StartOperationSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrOperation, operation))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "api."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
