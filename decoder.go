package imapnio

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	// DefaultMaxLineLength bounds a single protocol line before a CRLF is seen.
	DefaultMaxLineLength = 64 * 1024

	// minLiteralLineLength is the length of the shortest literal marker, "{0}".
	minLiteralLineLength = 3
)

var crlf = []byte{'\r', '\n'}

// DecodeErrorKind classifies frame decoding errors.
type DecodeErrorKind int

const (
	// DecodeErrorLineTooLong indicates a line exceeding the configured maximum.
	DecodeErrorLineTooLong DecodeErrorKind = iota
)

// DecodeError represents a frame decoding error. Decoding errors leave the
// decoder unable to resynchronize, so the owning connection must be dropped.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
	Line []byte // leading part of the offending input
}

const decodeErrorLineLimit = 128

func (e *DecodeError) Error() string {
	line, ellipsis := e.Line, ""
	if len(line) > decodeErrorLineLimit {
		line, ellipsis = line[:decodeErrorLineLimit], "..."
	}
	if len(line) == 0 {
		return "imapnio: " + e.Msg
	}
	return fmt.Sprintf("imapnio: %s (%+q%s)", e.Msg, line, ellipsis)
}

// IsFatal reports whether the connection must be closed. Every decode error
// currently is.
func (e *DecodeError) IsFatal() bool {
	return true
}

// Decoder turns an incrementally fed byte stream into response frames.
//
// A frame is either one CRLF-terminated line, or a line ending in a {N}
// literal marker followed by N raw bytes and the rest of the response, which
// may in turn announce another literal. Decoder never blocks and keeps all
// partial input between calls. It is not safe for concurrent use.
type Decoder struct {
	maxLineLength int

	buf     []byte // fed but not yet consumed
	scanned int    // prefix of buf already searched for CRLF
	frame   []byte // logical frame being assembled across literals

	// literalRemaining > 0 means the next literalRemaining bytes of input are
	// literal payload and are copied without interpretation.
	literalRemaining int
}

// NewDecoder creates a decoder. A non-positive maxLineLength selects
// DefaultMaxLineLength.
func NewDecoder(maxLineLength int) *Decoder {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Decoder{maxLineLength: maxLineLength}
}

// Feed appends p to the decoder input. p is copied.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame. ok is false when more input is needed.
func (d *Decoder) Next() (frame Frame, ok bool, err error) {
	for {
		if d.literalRemaining > 0 {
			if len(d.buf) == 0 {
				return nil, false, nil
			}
			n := min(len(d.buf), d.literalRemaining)
			d.frame = append(d.frame, d.buf[:n]...)
			d.consume(n)
			d.literalRemaining -= n
			if d.literalRemaining > 0 {
				return nil, false, nil
			}
			// Literal done; the rest of the response follows in line mode.
			continue
		}

		end, err := d.scanLine()
		if err != nil {
			return nil, false, err
		}
		if end < 0 {
			return nil, false, nil
		}

		line := d.buf[:end]
		d.frame = append(d.frame, line...)
		n, isLiteral := literalLength(line[:end-len(crlf)])
		d.consume(end)

		if isLiteral {
			d.literalRemaining = n
			continue
		}

		frame = d.frame
		d.frame = nil
		return frame, true, nil
	}
}

// Decode feeds p and returns every frame completed by it.
func (d *Decoder) Decode(p []byte) ([]Frame, error) {
	d.Feed(p)

	var frames []Frame
	for {
		frame, ok, err := d.Next()
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// Drain removes and returns input that has been fed but not yet consumed by a
// frame. Used when the byte stream below the decoder changes, e.g. when
// compression starts right after a tagged response.
func (d *Decoder) Drain() []byte {
	rest := d.buf
	d.buf = nil
	d.scanned = 0
	return rest
}

// Buffered returns the number of fed bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// InLiteral reports whether the decoder is inside a literal payload.
func (d *Decoder) InLiteral() bool {
	return d.literalRemaining > 0
}

// Reset discards all state.
func (d *Decoder) Reset() {
	d.buf = nil
	d.scanned = 0
	d.frame = nil
	d.literalRemaining = 0
}

// scanLine returns the length of the first CRLF-terminated line in buf, or -1
// when buf holds no complete line yet.
func (d *Decoder) scanLine() (int, error) {
	idx := bytes.Index(d.buf[d.scanned:], crlf)
	if idx < 0 {
		if len(d.buf) > d.maxLineLength {
			return -1, d.lineTooLong()
		}
		// Keep a trailing CR unscanned; its LF may arrive with the next chunk.
		if len(d.buf) > 0 {
			d.scanned = len(d.buf) - 1
		}
		return -1, nil
	}

	end := d.scanned + idx + len(crlf)
	if end-len(crlf) > d.maxLineLength {
		return -1, d.lineTooLong()
	}
	d.scanned = 0
	return end, nil
}

func (d *Decoder) lineTooLong() error {
	return &DecodeError{
		Kind: DecodeErrorLineTooLong,
		Msg:  fmt.Sprintf("line exceeds maximum length %d", d.maxLineLength),
		Line: bytes.Clone(d.buf[:min(len(d.buf), decodeErrorLineLimit)]),
	}
}

func (d *Decoder) consume(n int) {
	if n >= len(d.buf) {
		d.buf = nil
		return
	}
	d.buf = d.buf[n:]
}

// literalLength reports whether line (without CRLF) ends in a {N} marker and
// returns N. A '}' not preceded by digits and '{', or digits that do not parse
// as a non-negative int, make the line an ordinary one.
func literalLength(line []byte) (int, bool) {
	if len(line) < minLiteralLineLength || line[len(line)-1] != '}' {
		return 0, false
	}

	i := len(line) - 2
	for i >= 0 && line[i] >= '0' && line[i] <= '9' {
		i--
	}
	digits := line[i+1 : len(line)-1]
	if len(digits) == 0 || i < 0 || line[i] != '{' {
		return 0, false
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
