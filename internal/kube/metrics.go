package kube

import (
	"context"
	"time"
)

// MetricsRecorder receives one record per CLI invocation. The interface
// keeps this package free of instrumentation imports; the wiring layer
// passes in whatever satisfies it.
type MetricsRecorder interface {
	// RecordToolInvocation records one finished run. tool is "helm" or
	// "kubectl", verb the subcommand, status one of "success", "error" or
	// "timeout".
	RecordToolInvocation(ctx context.Context, tool, verb, status string, elapsed time.Duration)
}

// NopMetrics is the default recorder and drops everything.
type NopMetrics struct{}

func (NopMetrics) RecordToolInvocation(context.Context, string, string, string, time.Duration) {}

// WithMetrics sets the invocation recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

const (
	statusSuccess = "success"
	statusError   = "error"
	statusTimeout = "timeout"
)

// invocationVerb is the subcommand label for a run, the first CLI argument.
func invocationVerb(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
