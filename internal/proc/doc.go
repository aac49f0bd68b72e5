// Package proc supervises the external processes (helm, kubectl) the server
// fans out to, without leaking file descriptors or zombies and with safe
// concurrent use from many request handlers.
//
// A single Supervisor is created at boot and stopped at shutdown. Children
// are started with captured stdio and tracked in a sharded PID table. Each
// child has a watcher goroutine that waits for it and posts the decoded exit
// status to the reaper, a single background goroutine that deposits statuses
// into the table: if a live Handle is registered for the PID the status
// completes the Handle, otherwise the entry is discarded. Per-entry locking
// makes registration and deposit race-free in either order, so no exit
// status is ever dropped or duplicated regardless of how Handles move.
//
// Exit statuses are decoded the way shell conventions expect: a normal exit
// reports its exit code, a signal death reports 255.
//
// Closing a non-detached Handle whose child is still running sends SIGTERM.
// Timeouts are the caller's responsibility; Run applies the caller's context
// by terminating the child on cancellation.
package proc
