package proc

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"
)

// Handle owns a started child process. Exactly one Handle owns a PID at any
// time; Close releases ownership, sending SIGTERM first when the child is
// non-detached and still running. Detach releases ownership without the
// signal, leaving the child to run to completion on its own.
type Handle struct {
	pid     int
	process *os.Process

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	done       chan struct{}
	exitStatus int
	doneOnce   sync.Once

	mu       sync.Mutex
	detached bool
	released bool
}

// PID returns the child's process ID.
func (h *Handle) PID() int {
	return h.pid
}

// Done is closed once the child has been reaped. ExitStatus is valid only
// after Done.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitStatus returns the decoded exit status. Valid after Done is closed.
func (h *Handle) ExitStatus() int {
	return h.exitStatus
}

// Wait blocks until the child is reaped or the context is cancelled. It
// does not signal the child on cancellation; that is the caller's decision.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.exitStatus, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stdin returns the writer connected to the child's stdin, nil for
// detachable children. Callers must close it to deliver EOF.
func (h *Handle) Stdin() io.WriteCloser {
	if h.stdin == nil {
		return nil
	}
	return h.stdin
}

// Stdout returns the reader connected to the child's stdout, nil for
// detachable children. It reaches EOF when the child closes its end.
func (h *Handle) Stdout() io.Reader {
	if h.stdout == nil {
		return nil
	}
	return h.stdout
}

// Stderr returns the reader connected to the child's stderr, nil for
// detachable children.
func (h *Handle) Stderr() io.Reader {
	if h.stderr == nil {
		return nil
	}
	return h.stderr
}

// Signal delivers sig to the child.
func (h *Handle) Signal(sig os.Signal) error {
	return h.process.Signal(sig)
}

// Detach gives up the right to terminate the child: a later Close releases
// pipes but sends no signal.
func (h *Handle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
}

// Close releases the handle. A non-detached child that has not exited yet is
// sent SIGTERM. Close is idempotent and never blocks on the child; Done still
// fires once the reaper collects the exit status.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	terminate := !h.detached
	h.mu.Unlock()

	select {
	case <-h.done:
		terminate = false
	default:
	}

	if terminate {
		// The child may win the race and exit first; that is fine.
		_ = h.process.Signal(syscall.SIGTERM)
	}

	if h.stdin != nil {
		_ = h.stdin.Close()
	}
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	if h.stderr != nil {
		_ = h.stderr.Close()
	}
	return nil
}

// complete records the exit status and unblocks waiters. Called by the
// reaper exactly once.
func (h *Handle) complete(status int) {
	h.doneOnce.Do(func() {
		h.exitStatus = status
		close(h.done)
	})
}
