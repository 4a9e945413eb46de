package imapnio

import (
	"errors"
	"testing"

	"github.com/emersion/go-imap/v2"
)

func TestFrame_Kinds(t *testing.T) {
	tests := []struct {
		in           string
		continuation bool
		untagged     bool
		tag          string
	}{
		{"+ go ahead\r\n", true, false, ""},
		{"+\r\n", true, false, ""},
		{"* OK ready\r\n", false, true, ""},
		{"a1 OK done\r\n", false, false, "a1"},
		{"a12 NO [ALERT] nope\r\n", false, false, "a12"},
	}

	for _, tt := range tests {
		f := Frame(tt.in)
		if got := f.IsContinuation(); got != tt.continuation {
			t.Errorf("%q IsContinuation() = %v, want %v", tt.in, got, tt.continuation)
		}
		if got := f.IsUntagged(); got != tt.untagged {
			t.Errorf("%q IsUntagged() = %v, want %v", tt.in, got, tt.untagged)
		}
		if got := f.Tag(); got != tt.tag {
			t.Errorf("%q Tag() = %q, want %q", tt.in, got, tt.tag)
		}
		if got := f.IsTagged(); got != (tt.tag != "") {
			t.Errorf("%q IsTagged() = %v", tt.in, got)
		}
	}
}

func TestFrame_Status(t *testing.T) {
	tests := []struct {
		in   string
		want imap.StatusResponseType
	}{
		{"a1 OK done\r\n", imap.StatusResponseTypeOK},
		{"a1 ok lower case\r\n", imap.StatusResponseTypeOK},
		{"a2 NO failed\r\n", imap.StatusResponseTypeNo},
		{"a3 BAD syntax\r\n", imap.StatusResponseTypeBad},
		{"* PREAUTH welcome\r\n", imap.StatusResponseTypePreAuth},
		{"* BYE logging out\r\n", imap.StatusResponseTypeBye},
		{"* 3 EXISTS\r\n", ""},
		{"+ OK\r\n", ""},
	}

	for _, tt := range tests {
		if got := Frame(tt.in).Status(); got != tt.want {
			t.Errorf("%q Status() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFrame_CodeAndText(t *testing.T) {
	f := Frame("* OK [CAPABILITY IMAP4rev1 IDLE] server ready\r\n")

	code, args := f.Code()
	if code != "CAPABILITY" {
		t.Errorf("Code() = %q, want CAPABILITY", code)
	}
	if args != "IMAP4rev1 IDLE" {
		t.Errorf("Code() args = %q", args)
	}
	if text := f.Text(); text != "server ready" {
		t.Errorf("Text() = %q, want %q", text, "server ready")
	}

	plain := Frame("a1 OK LOGIN completed\r\n")
	if code, _ := plain.Code(); code != "" {
		t.Errorf("Code() = %q, want empty", code)
	}
	if text := plain.Text(); text != "LOGIN completed" {
		t.Errorf("Text() = %q", text)
	}

	if text := Frame("* 1 EXISTS\r\n").Text(); text != "" {
		t.Errorf("Text() of non-status frame = %q", text)
	}
}

func TestFrame_ContinuationText(t *testing.T) {
	if got := Frame("+ dGVzdA==\r\n").ContinuationText(); got != "dGVzdA==" {
		t.Errorf("ContinuationText() = %q", got)
	}
	if got := Frame("+\r\n").ContinuationText(); got != "" {
		t.Errorf("ContinuationText() = %q, want empty", got)
	}
	if got := Frame("a1 OK\r\n").ContinuationText(); got != "" {
		t.Errorf("ContinuationText() of tagged frame = %q", got)
	}
}

func TestFrame_TagWithLiteral(t *testing.T) {
	f := Frame("a4 OK [x] {3}\r\nabc\r\n")
	if f.Tag() != "a4" {
		t.Errorf("Tag() = %q, want a4", f.Tag())
	}
}

func TestResponse(t *testing.T) {
	resp := &Response{
		Tag: "a1",
		Frames: []Frame{
			Frame("* 2 EXISTS\r\n"),
			Frame("* 0 RECENT\r\n"),
			Frame("a1 OK [READ-WRITE] SELECT completed\r\n"),
		},
	}

	if !resp.OK() {
		t.Error("OK() = false, want true")
	}
	if err := resp.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if got := resp.Final().Tag(); got != "a1" {
		t.Errorf("Final().Tag() = %q", got)
	}
	if n := len(resp.Untagged()); n != 2 {
		t.Errorf("len(Untagged()) = %d, want 2", n)
	}
}

func TestResponse_Err(t *testing.T) {
	resp := &Response{
		Tag:    "a2",
		Frames: []Frame{Frame("a2 NO [AUTHENTICATIONFAILED] invalid credentials\r\n")},
	}

	if resp.OK() {
		t.Error("OK() = true for NO")
	}

	var imapErr *imap.Error
	if !errors.As(resp.Err(), &imapErr) {
		t.Fatalf("Err() = %v, want *imap.Error", resp.Err())
	}
	if imapErr.Type != imap.StatusResponseTypeNo {
		t.Errorf("Type = %q", imapErr.Type)
	}
	if imapErr.Code != imap.ResponseCodeAuthenticationFailed {
		t.Errorf("Code = %q", imapErr.Code)
	}
	if imapErr.Text != "invalid credentials" {
		t.Errorf("Text = %q", imapErr.Text)
	}
}

func TestResponse_Empty(t *testing.T) {
	resp := &Response{}
	if resp.Final() != nil || resp.Untagged() != nil {
		t.Error("empty response should have no frames")
	}
	if resp.OK() {
		t.Error("empty response reported OK")
	}
}
