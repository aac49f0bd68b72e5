package proc

import (
	"errors"
	"fmt"
)

// CommandSpec describes an external command to start.
type CommandSpec struct {
	// Exe is the program to run. Resolved against PATH when it contains no
	// path separator; starting fails if no match is found.
	Exe string

	// Args are the program arguments, not including the program name.
	Args []string

	// Env entries are overlaid on the parent environment per variable:
	// an entry replaces the parent's value for that name, other parent
	// variables pass through unchanged.
	Env map[string]string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Detachable children get /dev/null stdio instead of pipes, run in
	// their own session, and are not signaled when their Handle is closed.
	Detachable bool
}

// Result carries the collected output of a synchronous run.
type Result struct {
	// Output is everything the child wrote to stdout.
	Output string

	// ErrOutput is everything the child wrote to stderr.
	ErrOutput string

	// ExitStatus is the decoded exit status: the exit code for a normal
	// exit, 255 for a signal death.
	ExitStatus int
}

// Sentinel errors for supervisor operations.
var (
	// ErrSupervisorClosed is returned by Start after Shutdown has begun.
	ErrSupervisorClosed = errors.New("process supervisor is shut down")

	// ErrExecutableNotFound is returned when PATH resolution fails.
	ErrExecutableNotFound = errors.New("executable not found")
)

// StartError wraps a failure to launch a child process.
type StartError struct {
	Exe string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Exe, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
