package api

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/slateci/slate-api-server/internal/instrumentation"
)

// begin opens the span and the audit record every handler carries. The
// handler must End the span and route the record through finish or
// fail exactly once.
func (s *Server) begin(r *http.Request, operation string) (context.Context, trace.Span, *instrumentation.OperationRecord) {
	ctx, span := instrumentation.StartOperationSpan(r.Context(), operation)
	u := caller(ctx)
	rec := instrumentation.NewOperationRecord(operation).
		WithUser(u.ID, u.Email).
		WithSpanContext(ctx)
	return ctx, span, rec
}

// finish completes the record, emits the audit line and marks the span.
func (s *Server) finish(ctx context.Context, span trace.Span, rec *instrumentation.OperationRecord, err error) {
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.audit.LogOperation(ctx, rec.Complete(err == nil, err))
}

// fail completes the record and writes the error envelope.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, span trace.Span, rec *instrumentation.OperationRecord, err error) {
	s.finish(ctx, span, rec, err)
	writeError(w, err)
}
