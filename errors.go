package imapnio

import (
	"fmt"

	"github.com/pkg/errors"
)

// FailureType classifies why a command or session failed.
type FailureType int

const (
	// FailureCommandNotAllowed: a command was issued while another is outstanding.
	FailureCommandNotAllowed FailureType = iota
	// FailureClosedChannel: the session is no longer active.
	FailureClosedChannel
	// FailureNoCommandOutstanding: terminate was requested with nothing in flight.
	FailureNoCommandOutstanding
	// FailureWrite: writing command bytes to the transport failed.
	FailureWrite
	// FailureDisconnected: the transport was closed or reported an error.
	FailureDisconnected
	// FailureDecode: the incoming byte stream could not be framed.
	FailureDecode
	// FailureIdleTimeout: the server stayed silent while a response was due.
	FailureIdleTimeout
	// FailureChannelException: the command failed to build a continuation reply.
	FailureChannelException
	// FailureAugmentation: a transport stage could not be inserted.
	FailureAugmentation
)

func (t FailureType) String() string {
	switch t {
	case FailureCommandNotAllowed:
		return "command not allowed"
	case FailureClosedChannel:
		return "closed channel"
	case FailureNoCommandOutstanding:
		return "no command outstanding"
	case FailureWrite:
		return "write failure"
	case FailureDisconnected:
		return "disconnected"
	case FailureDecode:
		return "decode failure"
	case FailureIdleTimeout:
		return "idle timeout"
	case FailureChannelException:
		return "channel exception"
	case FailureAugmentation:
		return "transport augmentation failure"
	default:
		return fmt.Sprintf("FailureType(%d)", int(t))
	}
}

// usage reports whether failures of this type are caller mistakes that never
// touch the transport.
func (t FailureType) usage() bool {
	return t == FailureCommandNotAllowed || t == FailureClosedChannel || t == FailureNoCommandOutstanding
}

// Error is the typed failure delivered through futures and returned by the
// session entry points.
type Error struct {
	Type FailureType
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imapnio: %s: %v", e.Type, e.Err)
	}
	return "imapnio: " + e.Type.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so the sentinels below can be used
// with errors.Is regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// IsUsage reports whether the error is a usage error.
func (e *Error) IsUsage() bool {
	return e.Type.usage()
}

// Sentinel errors, one per FailureType.
var (
	ErrCommandNotAllowed    = &Error{Type: FailureCommandNotAllowed}
	ErrClosedChannel        = &Error{Type: FailureClosedChannel}
	ErrNoCommandOutstanding = &Error{Type: FailureNoCommandOutstanding}
	ErrWriteFailure         = &Error{Type: FailureWrite}
	ErrDisconnected         = &Error{Type: FailureDisconnected}
	ErrDecodeFailure        = &Error{Type: FailureDecode}
	ErrIdleTimeout          = &Error{Type: FailureIdleTimeout}
	ErrChannelException     = &Error{Type: FailureChannelException}
	ErrAugmentationFailure  = &Error{Type: FailureAugmentation}
)

// ErrTerminateNotSupported is returned by Command.Terminate for commands that
// cannot be aborted from the client side.
var ErrTerminateNotSupported = errors.New("imapnio: command has no terminate form")

func newError(t FailureType, cause error) *Error {
	return &Error{Type: t, Err: cause}
}

// FailureTypeOf extracts the FailureType of err, if it carries one.
func FailureTypeOf(err error) (FailureType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return 0, false
}
