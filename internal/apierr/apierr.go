// Package apierr defines the failure kinds surfaced to API callers and their
// HTTP mapping. The authorization kernel and the command executors return
// these; the API layer converts them to the wire envelope. Infrastructure
// errors wrap the cause so operators see the detail in logs while callers see
// only the user-facing message.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds, matchable with errors.Is.
var (
	// ErrUnauthenticated marks requests with a missing or unknown token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden marks requests by a known user lacking permission.
	ErrForbidden = errors.New("forbidden")

	// ErrBadRequest marks malformed or semantically invalid request input.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound marks references to entities that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks uniqueness violations such as a name already in use.
	ErrConflict = errors.New("conflict")

	// ErrUpstreamFailure marks helm/kubectl invocations that failed.
	ErrUpstreamFailure = errors.New("upstream tool failure")

	// ErrStoreFailure marks database and filesystem failures inside the store.
	ErrStoreFailure = errors.New("store failure")
)

// Both authentication and permission failures present the same message, so
// callers cannot probe which entities exist.
const notAuthorizedMessage = "Not authorized"

// Error carries one failure kind together with the message shown to the
// caller and, optionally, the underlying cause.
type Error struct {
	kind    error
	status  int
	message string
	cause   error
}

// Error implements the error interface with full internal detail.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches the error's kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.kind
}

// UserFacingError returns the message safe to place in the response envelope.
func (e *Error) UserFacingError() string {
	return e.message
}

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	return e.status
}

// Unauthenticated reports a missing or unknown access token.
func Unauthenticated() *Error {
	return &Error{kind: ErrUnauthenticated, status: http.StatusForbidden, message: notAuthorizedMessage}
}

// Forbidden reports a permission denial for an authenticated user.
func Forbidden() *Error {
	return &Error{kind: ErrForbidden, status: http.StatusForbidden, message: notAuthorizedMessage}
}

// BadRequest reports invalid request input. The formatted message is shown
// to the caller.
func BadRequest(format string, args ...any) *Error {
	return &Error{kind: ErrBadRequest, status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// NotFound reports a dangling entity reference, e.g. "Group not found".
func NotFound(what string) *Error {
	return &Error{kind: ErrNotFound, status: http.StatusNotFound, message: what + " not found"}
}

// Conflict reports a uniqueness violation.
func Conflict(format string, args ...any) *Error {
	return &Error{kind: ErrConflict, status: http.StatusConflict, message: fmt.Sprintf(format, args...)}
}

// Upstream reports a failed helm or kubectl invocation. excerpt should be
// the tool's first error line; it is shown to the caller verbatim.
func Upstream(excerpt string, cause error) *Error {
	if excerpt == "" {
		excerpt = "upstream tool failed"
	}
	return &Error{kind: ErrUpstreamFailure, status: http.StatusInternalServerError, message: excerpt, cause: cause}
}

// Store reports a database or filesystem failure. The caller sees a generic
// message; the cause is preserved for logging.
func Store(cause error) *Error {
	return &Error{kind: ErrStoreFailure, status: http.StatusInternalServerError, message: "Internal storage error", cause: cause}
}

// HTTPStatus returns the status code for any error: the mapped code for an
// *Error, 500 otherwise.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.status
	}
	return http.StatusInternalServerError
}

// Message returns the caller-visible message for any error: the user-facing
// message for an *Error, a generic one otherwise. Internal detail never
// leaks through this path.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.message
	}
	return "Internal server error"
}
