package proc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slateci/slate-api-server/internal/logging"
)

// defaultKillDelay is how long Run waits after SIGTERM before escalating to
// SIGKILL when its context is cancelled.
const defaultKillDelay = 10 * time.Second

// exitEvent is posted by a child watcher to the reaper.
type exitEvent struct {
	pid    int
	status int
}

// Supervisor starts and tracks external processes. One Supervisor serves the
// whole server; create it at boot and Shutdown at exit.
type Supervisor struct {
	logger    *slog.Logger
	table     *pidTable
	exits     chan exitEvent
	stopCh    chan struct{}
	reaperWG  sync.WaitGroup
	watchers  sync.WaitGroup
	children  atomic.Int64
	closed    atomic.Bool
	killDelay time.Duration
	metrics   MetricsRecorder
}

// MetricsRecorder observes the child population. Both calls must be safe
// from multiple goroutines; the wiring layer passes in whatever satisfies
// the interface.
type MetricsRecorder interface {
	ChildStarted()
	ChildExited()
}

// NopMetrics is the default recorder and drops everything.
type NopMetrics struct{}

func (NopMetrics) ChildStarted() {}
func (NopMetrics) ChildExited()  {}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithKillDelay overrides the SIGTERM-to-SIGKILL escalation delay used by
// Run on context cancellation.
func WithKillDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.killDelay = d
	}
}

// WithMetrics sets the child population recorder.
func WithMetrics(m MetricsRecorder) SupervisorOption {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewSupervisor creates a Supervisor and starts its reaper goroutine.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		logger:    slog.Default(),
		table:     newPIDTable(),
		exits:     make(chan exitEvent, 128),
		stopCh:    make(chan struct{}),
		killDelay: defaultKillDelay,
		metrics:   NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reaperWG.Add(1)
	go s.reap()
	return s
}

// Children returns the number of tracked live children.
func (s *Supervisor) Children() int {
	return int(s.children.Load())
}

// Start launches the command described by spec and returns a Handle owning
// the child. PATH resolution, environment overlay, pipe allocation and
// launch failures are all reported synchronously.
func (s *Supervisor) Start(spec CommandSpec) (*Handle, error) {
	if s.closed.Load() {
		return nil, ErrSupervisorClosed
	}

	exe := spec.Exe
	if !strings.ContainsRune(exe, os.PathSeparator) {
		resolved, err := exec.LookPath(exe)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrExecutableNotFound, spec.Exe)
		}
		exe = resolved
	}

	cmd := exec.Command(exe, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = overlayEnv(os.Environ(), spec.Env)

	h := &Handle{done: make(chan struct{}), detached: spec.Detachable}

	if spec.Detachable {
		// Own session, /dev/null stdio.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	} else {
		// The pipes are created by hand rather than through the exec
		// package so that waiting on the child never closes streams a
		// caller is still draining. The parent closes the child-side ends
		// right after launch.
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return nil, &StartError{Exe: spec.Exe, Err: err}
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			return nil, &StartError{Exe: spec.Exe, Err: err}
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			return nil, &StartError{Exe: spec.Exe, Err: err}
		}
		cmd.Stdin = stdinR
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
		h.stdin = stdinW
		h.stdout = stdoutR
		h.stderr = stderrR

		defer func() {
			stdinR.Close()
			stdoutW.Close()
			stderrW.Close()
		}()
	}

	if err := cmd.Start(); err != nil {
		if h.stdin != nil {
			h.stdin.Close()
			h.stdout.Close()
			h.stderr.Close()
		}
		return nil, &StartError{Exe: spec.Exe, Err: err}
	}

	h.pid = cmd.Process.Pid
	h.process = cmd.Process

	rec := &pidRecord{pid: h.pid, process: cmd.Process, handle: h}
	s.table.put(rec)
	s.children.Add(1)
	s.metrics.ChildStarted()

	s.watchers.Add(1)
	go s.watch(cmd)

	s.logger.Debug("child process started",
		logging.Command(spec.Exe),
		slog.Int("pid", h.pid))
	return h, nil
}

// Run starts the command and collects its output to completion. A non-zero
// exit is not an error; it is reported in Result.ExitStatus. The error
// return covers launch failures and context cancellation only.
func (s *Supervisor) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	return s.RunWithInput(ctx, spec, "")
}

// RunWithInput behaves like Run and additionally writes input to the child's
// stdin before closing it.
func (s *Supervisor) RunWithInput(ctx context.Context, spec CommandSpec, input string) (Result, error) {
	h, err := s.Start(spec)
	if err != nil {
		return Result{}, err
	}
	defer h.Close()

	var stdout, stderr strings.Builder
	var streams errgroup.Group

	if out := h.Stdout(); out != nil {
		streams.Go(func() error {
			_, err := io.Copy(&stdout, out)
			return err
		})
	}
	if errOut := h.Stderr(); errOut != nil {
		streams.Go(func() error {
			_, err := io.Copy(&stderr, errOut)
			return err
		})
	}
	if in := h.Stdin(); in != nil {
		streams.Go(func() error {
			// A child that exits without reading produces EPIPE here;
			// its exit status is the interesting part, not the write.
			if input != "" {
				_, _ = io.WriteString(in, input)
			}
			return in.Close()
		})
	}

	select {
	case <-h.Done():
		_ = streams.Wait()
		return Result{
			Output:     stdout.String(),
			ErrOutput:  stderr.String(),
			ExitStatus: h.ExitStatus(),
		}, nil
	case <-ctx.Done():
		_ = h.Signal(syscall.SIGTERM)
		select {
		case <-h.Done():
		case <-time.After(s.killDelay):
			_ = h.Signal(syscall.SIGKILL)
			<-h.Done()
		}
		_ = streams.Wait()
		return Result{
			Output:     stdout.String(),
			ErrOutput:  stderr.String(),
			ExitStatus: h.ExitStatus(),
		}, ctx.Err()
	}
}

// Shutdown terminates surviving children, waits for every watcher to finish
// and stops the reaper. After the context expires surviving children are
// killed outright.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, rec := range s.table.snapshot() {
		rec.mu.Lock()
		p, exited := rec.process, rec.exited
		rec.mu.Unlock()
		if !exited && p != nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}

	watchersDone := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(watchersDone)
	}()

	var shutdownErr error
	select {
	case <-watchersDone:
	case <-ctx.Done():
		shutdownErr = ctx.Err()
		for _, rec := range s.table.snapshot() {
			rec.mu.Lock()
			p, exited := rec.process, rec.exited
			rec.mu.Unlock()
			if !exited && p != nil {
				_ = p.Signal(syscall.SIGKILL)
			}
		}
		<-watchersDone
	}

	close(s.stopCh)
	s.reaperWG.Wait()

	if n := s.table.size(); n != 0 {
		s.logger.Warn("child records left after shutdown", slog.Int("count", n))
	}
	return shutdownErr
}

// watch waits for one child and posts its decoded exit status to the reaper.
func (s *Supervisor) watch(cmd *exec.Cmd) {
	defer s.watchers.Done()
	_ = cmd.Wait()
	s.exits <- exitEvent{
		pid:    cmd.Process.Pid,
		status: decodeExit(cmd.ProcessState),
	}
}

// reap is the single background goroutine depositing exit statuses into the
// PID table.
func (s *Supervisor) reap() {
	defer s.reaperWG.Done()
	for {
		select {
		case ev := <-s.exits:
			s.deposit(ev)
		case <-s.stopCh:
			for {
				select {
				case ev := <-s.exits:
					s.deposit(ev)
				default:
					return
				}
			}
		}
	}
}

// deposit completes the Handle registered for the PID, or discards the
// status when no live Handle remains, then drops the table entry.
func (s *Supervisor) deposit(ev exitEvent) {
	rec := s.table.get(ev.pid)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	rec.exited = true
	rec.status = ev.status
	h := rec.handle
	rec.mu.Unlock()

	if h != nil {
		h.complete(ev.status)
	}
	s.table.remove(ev.pid)
	s.children.Add(-1)
	s.metrics.ChildExited()
}

// decodeExit maps a wait outcome onto the shell convention the executors
// parse: exit code for a normal exit, 255 for a signal death.
func decodeExit(ps *os.ProcessState) int {
	if ps == nil {
		return 255
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 255
	}
	if code := ps.ExitCode(); code >= 0 {
		return code
	}
	return 255
}

// overlayEnv applies per-variable replacements on top of the parent
// environment.
func overlayEnv(parent []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return parent
	}
	remaining := make(map[string]string, len(overlay))
	for k, v := range overlay {
		remaining[k] = v
	}
	out := make([]string, 0, len(parent)+len(overlay))
	for _, kv := range parent {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		if v, replace := remaining[name]; replace {
			out = append(out, name+"="+v)
			delete(remaining, name)
			continue
		}
		out = append(out, kv)
	}
	for k, v := range remaining {
		out = append(out, k+"="+v)
	}
	return out
}
