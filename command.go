package imapnio

import (
	"fmt"
	"time"
)

// Command is a request the session can drive through its life cycle. The
// session knows nothing about command syntax; it only asks the command for
// the bytes to put on the wire.
type Command interface {
	// Command returns the initial command bytes for the given tag, including
	// the trailing CRLF.
	Command(tag string) ([]byte, error)
	// Continue returns the bytes to send after the server's continuation
	// request f. A nil slice with a nil error means there is nothing to send
	// and the command keeps waiting for the server.
	Continue(f Frame) ([]byte, error)
	// Terminate returns the bytes that ask the server to end the running
	// command early, or ErrTerminateNotSupported.
	Terminate() ([]byte, error)
}

// SensitiveCommand is implemented by commands whose bytes must not be logged.
type SensitiveCommand interface {
	Sensitive() bool
}

// IdleCommand is implemented by commands during which the server may stay
// silent indefinitely, such as IDLE. Idle timeouts never fail them.
type IdleCommand interface {
	IdleAllowed() bool
}

// AugmentingCommand is implemented by commands that change the transport once
// they complete with OK, such as COMPRESS. The returned stage is inserted
// before any further byte is read.
type AugmentingCommand interface {
	Augmentation() Stage
}

func isSensitive(cmd Command) bool {
	s, ok := cmd.(SensitiveCommand)
	return ok && s.Sensitive()
}

func isIdleAllowed(cmd Command) bool {
	i, ok := cmd.(IdleCommand)
	return ok && i.IdleAllowed()
}

// CommandState is the life cycle state of an outstanding command.
type CommandState int

const (
	// RequestInPreparation: bytes are being built or written.
	RequestInPreparation CommandState = iota
	// RequestSent: bytes are on the wire, responses are due.
	RequestSent
	// ResponsesDone: the tagged completion arrived.
	ResponsesDone
)

func (s CommandState) String() string {
	switch s {
	case RequestInPreparation:
		return "request_in_preparation"
	case RequestSent:
		return "request_sent"
	case ResponsesDone:
		return "responses_done"
	default:
		return fmt.Sprintf("CommandState(%d)", int(s))
	}
}

// commandEntry tracks the single outstanding command of a session. It is
// owned by the session's dispatch loop.
type commandEntry struct {
	tag    string
	cmd    Command
	state  CommandState
	frames []Frame
	sentAt time.Time
	future *Future[*Response]
}

func newCommandEntry(tag string, cmd Command, future *Future[*Response]) *commandEntry {
	return &commandEntry{
		tag:    tag,
		cmd:    cmd,
		state:  RequestInPreparation,
		future: future,
	}
}

func (e *commandEntry) response() *Response {
	return &Response{Tag: e.tag, Frames: e.frames}
}
