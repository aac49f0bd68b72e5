package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// OperationRecord captures one API operation for audit logging: who invoked
// it, what it touched and how it ended. Records are built up through the
// course of a request and logged once on completion.
type OperationRecord struct {
	// Operation names the API operation, e.g. "instance.install".
	Operation string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Caller identity.
	UserID    string
	UserEmail string

	// Touched resources. Empty fields are omitted from log output.
	Group    string
	Cluster  string
	Resource string

	// Trace context for correlation, when tracing is active.
	TraceID string
	SpanID  string
}

// NewOperationRecord starts a record for the named operation. The start time
// is taken now; Complete measures the duration against it.
func NewOperationRecord(operation string) *OperationRecord {
	return &OperationRecord{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// WithUser attaches the caller's identity.
func (r *OperationRecord) WithUser(id, email string) *OperationRecord {
	r.UserID = id
	r.UserEmail = email
	return r
}

// WithGroup attaches the group the operation acts for.
func (r *OperationRecord) WithGroup(name string) *OperationRecord {
	r.Group = name
	return r
}

// WithCluster attaches the target cluster.
func (r *OperationRecord) WithCluster(name string) *OperationRecord {
	r.Cluster = name
	return r
}

// WithResource attaches the primary resource identifier, e.g.
// "Instance_9f0e" or a secret ID.
func (r *OperationRecord) WithResource(id string) *OperationRecord {
	r.Resource = id
	return r
}

// WithSpanContext copies the trace and span IDs out of ctx when a valid span
// is present. Without one the record stays uncorrelated.
func (r *OperationRecord) WithSpanContext(ctx context.Context) *OperationRecord {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		r.TraceID = span.SpanContext().TraceID().String()
		r.SpanID = span.SpanContext().SpanID().String()
	}
	return r
}

// Complete finalizes the record with the outcome and measures the duration.
func (r *OperationRecord) Complete(success bool, err error) *OperationRecord {
	r.Success = success
	r.Duration = time.Since(r.StartTime)
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// CompleteSuccess finalizes the record as successful.
func (r *OperationRecord) CompleteSuccess() *OperationRecord {
	return r.Complete(true, nil)
}

// CompleteWithError finalizes the record as failed with the given error.
func (r *OperationRecord) CompleteWithError(err error) *OperationRecord {
	return r.Complete(false, err)
}

// Status returns the outcome as a metric label value.
func (r *OperationRecord) Status() string {
	if r.Success {
		return StatusSuccess
	}
	return StatusError
}

// UserDomain returns the caller's email domain, the cardinality-controlled
// stand-in for the full address.
func (r *OperationRecord) UserDomain() string {
	return ExtractUserDomain(r.UserEmail)
}

// LogAttrs returns cardinality-controlled attributes safe for aggregation:
// no names, no IDs, no full email. Use these for routine operational logs.
func (r *OperationRecord) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("operation", r.Operation),
		slog.String("user_domain", r.UserDomain()),
		slog.Duration("duration", r.Duration),
		slog.Bool("success", r.Success),
	}
}

// LogAuditAttrs returns the full-fidelity attributes for the audit trail:
// who did what to which resource, with trace correlation when available.
func (r *OperationRecord) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", r.Operation),
		slog.String("user", r.UserID),
		slog.Duration("duration", r.Duration),
		slog.Bool("success", r.Success),
	}
	if r.UserEmail != "" {
		attrs = append(attrs, slog.String("email", r.UserEmail))
	}
	if r.Group != "" {
		attrs = append(attrs, slog.String("group", r.Group))
	}
	if r.Cluster != "" {
		attrs = append(attrs, slog.String("cluster", r.Cluster))
	}
	if r.Resource != "" {
		attrs = append(attrs, slog.String("resource", r.Resource))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	if r.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", r.TraceID))
	}
	if r.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", r.SpanID))
	}
	return attrs
}

// AuditLogger writes the audit trail of API operations through slog.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger wraps logger for audit output. A nil logger falls back to
// the process default.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogOperation writes one completed operation record. Failures log at warn
// level so they surface in filtered output.
func (a *AuditLogger) LogOperation(ctx context.Context, r *OperationRecord) {
	level := slog.LevelInfo
	if !r.Success {
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(ctx, level, "api operation", r.LogAuditAttrs()...)
}
