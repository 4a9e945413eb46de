package imapnio

import (
	"bytes"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// Frame is one complete server response: a CRLF-terminated line, or a line
// with embedded literals plus everything up to the final CRLF. Frames are
// handed out by the Decoder and must not be modified.
type Frame []byte

// Bytes returns the raw frame, including the trailing CRLF.
func (f Frame) Bytes() []byte {
	return f
}

func (f Frame) String() string {
	return string(f)
}

// IsContinuation reports whether the server asks for more client data.
func (f Frame) IsContinuation() bool {
	return len(f) > 0 && f[0] == '+'
}

// IsUntagged reports whether the frame starts with "*".
func (f Frame) IsUntagged() bool {
	return len(f) > 0 && f[0] == '*'
}

// Tag returns the tag of a tagged response, or "" for untagged and
// continuation frames.
func (f Frame) Tag() string {
	if f.IsContinuation() || f.IsUntagged() {
		return ""
	}
	tag, _ := f.fields()
	return tag
}

// IsTagged reports whether the frame carries a command tag.
func (f Frame) IsTagged() bool {
	return f.Tag() != ""
}

// Status returns the status condition of an OK/NO/BAD/PREAUTH/BYE response,
// tagged or untagged, or "" when the frame is not a status response.
func (f Frame) Status() imap.StatusResponseType {
	if f.IsContinuation() {
		return ""
	}
	_, rest := f.fields()
	word, _, _ := strings.Cut(rest, " ")
	switch t := imap.StatusResponseType(strings.ToUpper(word)); t {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypeNo, imap.StatusResponseTypeBad,
		imap.StatusResponseTypePreAuth, imap.StatusResponseTypeBye:
		return t
	default:
		return ""
	}
}

// Code returns the bracketed response code of a status response and its
// arguments, e.g. "CAPABILITY" and "IMAP4rev1 IDLE".
func (f Frame) Code() (imap.ResponseCode, string) {
	text, ok := f.statusText()
	if !ok || !strings.HasPrefix(text, "[") {
		return "", ""
	}
	inner, _, found := strings.Cut(text[1:], "]")
	if !found {
		return "", ""
	}
	code, args, _ := strings.Cut(inner, " ")
	return imap.ResponseCode(strings.ToUpper(code)), args
}

// Text returns the human-readable text of a status response, without the
// response code.
func (f Frame) Text() string {
	text, ok := f.statusText()
	if !ok {
		return ""
	}
	if strings.HasPrefix(text, "[") {
		if _, after, found := strings.Cut(text, "]"); found {
			return strings.TrimPrefix(after, " ")
		}
	}
	return text
}

// ContinuationText returns the text after "+ " without the trailing CRLF.
func (f Frame) ContinuationText() string {
	if !f.IsContinuation() {
		return ""
	}
	line := strings.TrimPrefix(f.firstLine()[1:], " ")
	return line
}

func (f Frame) statusText() (string, bool) {
	if f.Status() == "" {
		return "", false
	}
	_, rest := f.fields()
	_, text, _ := strings.Cut(rest, " ")
	return text, true
}

// fields splits the first line into the leading token and the remainder.
func (f Frame) fields() (string, string) {
	first, rest, _ := strings.Cut(f.firstLine(), " ")
	return first, rest
}

func (f Frame) firstLine() string {
	line := []byte(f)
	if i := bytes.Index(line, crlf); i >= 0 {
		line = line[:i]
	}
	return string(line)
}

// Response is the batch of frames collected for one command, in arrival
// order, with the tagged completion last.
type Response struct {
	Tag    string
	Frames []Frame
}

// Final returns the tagged completion frame.
func (r *Response) Final() Frame {
	if len(r.Frames) == 0 {
		return nil
	}
	return r.Frames[len(r.Frames)-1]
}

// Untagged returns every frame that arrived before the tagged completion.
func (r *Response) Untagged() []Frame {
	if len(r.Frames) == 0 {
		return nil
	}
	return r.Frames[:len(r.Frames)-1]
}

// Err converts a NO or BAD completion into an *imap.Error. It returns nil for
// OK.
func (r *Response) Err() error {
	final := r.Final()
	switch status := final.Status(); status {
	case imap.StatusResponseTypeNo, imap.StatusResponseTypeBad:
		code, _ := final.Code()
		return &imap.Error{Type: status, Code: code, Text: final.Text()}
	default:
		return nil
	}
}

// OK reports whether the command completed with an OK status.
func (r *Response) OK() bool {
	return r.Final().Status() == imap.StatusResponseTypeOK
}
