// Package kube drives helm and kubectl as child processes under the
// supervisor. Nothing in the server talks to a cluster API directly; every
// interaction runs one of the two CLIs with KUBECONFIG pointed at the target
// cluster's materialized config file, and failures surface the tool's own
// first error line.
package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/proc"
)

// defaultTimeout bounds a single CLI invocation. Helm installs of heavyweight
// charts are the slowest operation this covers.
const defaultTimeout = 5 * time.Minute

// excerptLimit caps the fallback excerpt taken from tool output that carries
// no recognizable error line.
const excerptLimit = 200

type settings struct {
	logger  *slog.Logger
	tool    string
	binary  string
	timeout time.Duration
	metrics MetricsRecorder
}

// Option configures a Helm or Kubectl client.
type Option func(*settings)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithBinary overrides the executable name, e.g. a pinned path or a test
// stub.
func WithBinary(name string) Option {
	return func(s *settings) {
		s.binary = name
	}
}

// WithTimeout overrides the per-invocation ceiling.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// newSettings seeds the defaults for one tool. The tool name doubles as the
// executable default; WithBinary overrides the executable but the tool name
// stays stable for logs and metrics.
func newSettings(tool string, opts []Option) settings {
	s := settings{
		logger:  slog.Default(),
		tool:    tool,
		binary:  tool,
		timeout: defaultTimeout,
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// runner is the shared invocation path for both CLIs.
type runner struct {
	sup *proc.Supervisor
	settings
}

// run executes one CLI invocation. kubeconfig, when non-empty, is overlaid
// as KUBECONFIG. The error return covers launch failures and timeouts; a
// non-zero exit is reported through the Result for the operation to judge.
func (r *runner) run(ctx context.Context, kubeconfig string, args []string, stdin string) (proc.Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	spec := proc.CommandSpec{Exe: r.binary, Args: args}
	if kubeconfig != "" {
		spec.Env = map[string]string{"KUBECONFIG": kubeconfig}
	}

	started := time.Now()
	res, err := r.sup.RunWithInput(ctx, spec, stdin)
	elapsed := time.Since(started)
	r.metrics.RecordToolInvocation(ctx, r.tool, invocationVerb(args), runStatus(ctx, err, res), elapsed)
	r.logger.Debug("external command finished",
		logging.Command(r.binary),
		slog.String("args", strings.Join(args, " ")),
		logging.ExitStatus(res.ExitStatus),
		logging.Duration(elapsed))
	if err != nil {
		return res, apierr.Upstream(firstErrorLine(combined(res)), err)
	}
	return res, nil
}

// runStatus classifies one invocation for metrics. A hit deadline counts as
// a timeout whether the tool noticed it or the supervisor killed it; any
// other launch failure or non-zero exit is an error.
func runStatus(ctx context.Context, err error, res proc.Result) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return statusTimeout
	case err != nil || res.ExitStatus != 0:
		return statusError
	default:
		return statusSuccess
	}
}

// combined joins stderr before stdout; the tools write their diagnostics to
// stderr, so error extraction scans it first.
func combined(res proc.Result) string {
	switch {
	case res.ErrOutput == "":
		return res.Output
	case res.Output == "":
		return res.ErrOutput
	default:
		return res.ErrOutput + "\n" + res.Output
	}
}

// firstErrorLine picks the line shown to callers when a tool fails: the
// first line mentioning an error, else a truncated excerpt of the output.
func firstErrorLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "error") {
			return strings.TrimSpace(line)
		}
	}
	excerpt := strings.TrimSpace(output)
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
	}
	return excerpt
}

// toolError builds the UpstreamFailure for a non-zero exit.
func toolError(tool string, res proc.Result) error {
	return apierr.Upstream(firstErrorLine(combined(res)),
		&exitError{tool: tool, status: res.ExitStatus})
}

type exitError struct {
	tool   string
	status int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.tool, e.status)
}
