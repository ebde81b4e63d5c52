package fortress

import (
	"errors"
	"fmt"

	"github.com/wallstop/fortress/telemetry"
)

// ErrorKind is the error taxonomy. Every error the core returns
// wraps one of these sentinels so callers can `errors.Is` against it.
type ErrorKind error

var (
	// ErrInvalidRequest means the host misused the API: a missing local
	// input, a frame-delay out of range, a handle that isn't local, etc.
	// Recoverable: return to the caller, who corrects and retries.
	ErrInvalidRequest ErrorKind = errors.New("fortress: invalid request")

	// ErrInvalidFrame means a load/query targeted a frame outside the
	// window the core can currently answer for.
	ErrInvalidFrame ErrorKind = errors.New("fortress: invalid frame")

	// ErrNotSynchronized means the session has not reached Running yet.
	ErrNotSynchronized ErrorKind = errors.New("fortress: not synchronized")

	// ErrInvalidPlayerHandle means a handle argument was out of range for
	// the session's player/spectator set.
	ErrInvalidPlayerHandle ErrorKind = errors.New("fortress: invalid player handle")

	// ErrSerialization means a codec/transport operation failed on a
	// known-shape input. Only returned at session construction time;
	// during a running session codec failures are reported via the
	// telemetry Observer and the offending packet is dropped instead.
	ErrSerialization ErrorKind = errors.New("fortress: serialization error")

	// ErrMismatchedChecksum is returned only by the synctest package,
	// when two simulated peers diverge.
	ErrMismatchedChecksum ErrorKind = errors.New("fortress: mismatched checksum")

	// ErrInternal means an invariant check failed. Also reported via the
	// telemetry Observer as Critical before being returned.
	ErrInternal ErrorKind = errors.New("fortress: internal error")
)

// Error wraps one of the ErrorKind sentinels with a specific message,
// supporting errors.Is against the sentinel and errors.Unwrap to it.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

// Unwrap supports errors.Is(err, fortress.ErrInvalidRequest) and friends.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// invalidRequest builds an ErrInvalidRequest-wrapped Error.
func invalidRequest(format string, args ...any) *Error {
	return newError(ErrInvalidRequest, format, args...)
}

// invalidFrame builds an ErrInvalidFrame-wrapped Error.
func invalidFrame(format string, args ...any) *Error {
	return newError(ErrInvalidFrame, format, args...)
}

// notSynchronized builds an ErrNotSynchronized-wrapped Error.
func notSynchronized(format string, args ...any) *Error {
	return newError(ErrNotSynchronized, format, args...)
}

// invalidPlayerHandle builds an ErrInvalidPlayerHandle-wrapped Error.
func invalidPlayerHandle(format string, args ...any) *Error {
	return newError(ErrInvalidPlayerHandle, format, args...)
}

// internalError builds an ErrInternal-wrapped Error and reports it as
// Critical through obs before returning the error.
func internalError(obs telemetry.Observer, format string, args ...any) *Error {
	e := newError(ErrInternal, format, args...)
	telemetry.Report(obs, telemetry.SeverityCritical, telemetry.KindInternal, "%s", e.Msg)
	return e
}
