// Package command provides ready-made imapnio commands for the common IMAP
// requests: CAPABILITY, NOOP, LOGOUT, SELECT/EXAMINE, LOGIN, AUTHENTICATE,
// IDLE, COMPRESS and APPEND, plus Raw for anything else.
//
// Arguments that cannot be sent as quoted strings are sent as synchronizing
// literals; each literal waits for the server's continuation request before
// the rest of the command is written.
package command

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/Zereker/imapnio"
)

// maxQuotedLength bounds strings sent as quoted; longer ones become literals.
const maxQuotedLength = 1024

var errUnexpectedContinuation = errors.New("unexpected continuation request")

// builder assembles a command line, splitting it after every literal
// announcement.
type builder struct {
	segments [][]byte
	buf      []byte
}

func newBuilder(tag, name string) *builder {
	b := &builder{}
	b.buf = append(b.buf, tag...)
	b.buf = append(b.buf, ' ')
	b.buf = append(b.buf, name...)
	return b
}

// atom appends s verbatim after a space.
func (b *builder) atom(s string) *builder {
	b.buf = append(b.buf, ' ')
	b.buf = append(b.buf, s...)
	return b
}

// str appends s as a quoted string, or as a literal when quoting cannot
// represent it.
func (b *builder) str(s string) *builder {
	if !quotable(s) {
		return b.literal([]byte(s))
	}

	b.buf = append(b.buf, ' ', '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.buf = append(b.buf, '\\')
		}
		b.buf = append(b.buf, s[i])
	}
	b.buf = append(b.buf, '"')
	return b
}

// list appends a parenthesized list of atoms.
func (b *builder) list(items []string) *builder {
	b.buf = append(b.buf, ' ', '(')
	for i, item := range items {
		if i > 0 {
			b.buf = append(b.buf, ' ')
		}
		b.buf = append(b.buf, item...)
	}
	b.buf = append(b.buf, ')')
	return b
}

// literal announces p and ends the current segment; p starts the next one.
func (b *builder) literal(p []byte) *builder {
	b.buf = append(b.buf, ' ', '{')
	b.buf = strconv.AppendInt(b.buf, int64(len(p)), 10)
	b.buf = append(b.buf, '}', '\r', '\n')
	b.segments = append(b.segments, b.buf)
	b.buf = append([]byte(nil), p...)
	return b
}

// done terminates the command with CRLF and returns its segments.
func (b *builder) done() [][]byte {
	b.buf = append(b.buf, '\r', '\n')
	segments := append(b.segments, b.buf)
	b.segments, b.buf = nil, nil
	return segments
}

func quotable(s string) bool {
	if len(s) > maxQuotedLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == 0, c == '\r', c == '\n', c >= 0x80:
			return false
		}
	}
	return true
}

// segmented drives a command whose bytes are known up front: the first
// segment is sent with the tag, each continuation request releases the next.
type segmented struct {
	build    func(b *builder)
	name     string
	segments [][]byte
	next     int
}

func (c *segmented) Command(tag string) ([]byte, error) {
	b := newBuilder(tag, c.name)
	if c.build != nil {
		c.build(b)
	}
	c.segments = b.done()
	c.next = 1
	return c.segments[0], nil
}

func (c *segmented) Continue(imapnio.Frame) ([]byte, error) {
	if c.next >= len(c.segments) {
		return nil, errors.Wrapf(errUnexpectedContinuation, "%s", c.name)
	}
	seg := c.segments[c.next]
	c.next++
	return seg, nil
}

func (c *segmented) Terminate() ([]byte, error) {
	return nil, imapnio.ErrTerminateNotSupported
}

// Raw sends Line after the tag as is. Use it for commands this package does
// not cover; Line must not contain literals.
type Raw struct {
	Line string
	// Secret keeps the line out of the logs.
	Secret bool
	// Idle lets the server stay silent while the command runs.
	Idle bool
	// Done is written by Session.Terminate, e.g. "DONE". Empty means the
	// command cannot be terminated.
	Done string
}

var (
	_ imapnio.Command          = (*Raw)(nil)
	_ imapnio.SensitiveCommand = (*Raw)(nil)
	_ imapnio.IdleCommand      = (*Raw)(nil)
)

func (r *Raw) Command(tag string) ([]byte, error) {
	if r.Line == "" {
		return nil, errors.New("raw command: empty line")
	}
	return []byte(tag + " " + r.Line + "\r\n"), nil
}

// Continue sends nothing; the command waits for the server.
func (r *Raw) Continue(imapnio.Frame) ([]byte, error) {
	return nil, nil
}

func (r *Raw) Terminate() ([]byte, error) {
	if r.Done == "" {
		return nil, imapnio.ErrTerminateNotSupported
	}
	return []byte(r.Done + "\r\n"), nil
}

func (r *Raw) Sensitive() bool   { return r.Secret }
func (r *Raw) IdleAllowed() bool { return r.Idle }
