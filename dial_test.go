package imapnio

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/Zereker/imapnio/internal/imaptest"
)

// echoOK answers every command with a tagged OK until the client goes away.
var echoOK = imaptest.HandlerFunc(func(c *imaptest.Conn) {
	for {
		tag, rest, err := c.ReadCommand()
		if err != nil {
			return
		}
		if err := c.WriteLine("%s OK %s completed", tag, rest); err != nil {
			return
		}
	}
})

func TestDial(t *testing.T) {
	server := imaptest.Start(t, echoOK)

	s, err := Dial(context.Background(), server.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	g := s.Greeting()
	if g == nil {
		t.Fatal("Greeting() = nil")
	}
	if g.Status != imap.StatusResponseTypeOK || g.PreAuth() {
		t.Errorf("Status = %q", g.Status)
	}
	for _, c := range []imap.Cap{imap.CapIMAP4rev1, imap.CapIdle, "COMPRESS=DEFLATE", "AUTH=PLAIN"} {
		if !g.Caps.Has(c) {
			t.Errorf("capability %s missing from %v", c, g.Caps)
		}
	}
	if g.Text != "imaptest ready" {
		t.Errorf("Text = %q", g.Text)
	}

	f, err := s.Execute(&testCommand{line: "NOOP"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	resp, err := waitResponse(t, f)
	if err != nil {
		t.Fatalf("response error: %v", err)
	}
	if got := resp.Final().String(); got != "a1 OK NOOP completed\r\n" {
		t.Errorf("final = %q", got)
	}
}

func TestDial_PreAuth(t *testing.T) {
	server := imaptest.Start(t, echoOK, imaptest.GreetingOption("* PREAUTH [CAPABILITY IMAP4rev2] logged in"))

	s, err := Dial(context.Background(), server.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	if !s.Greeting().PreAuth() {
		t.Error("PreAuth() = false")
	}
	if !s.Greeting().Caps.Has(imap.CapIMAP4rev2) {
		t.Errorf("Caps = %v", s.Greeting().Caps)
	}
}

func TestDial_Bye(t *testing.T) {
	server := imaptest.Start(t, echoOK, imaptest.GreetingOption("* BYE [UNAVAILABLE] maintenance"))

	_, err := Dial(context.Background(), server.Addr())
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		t.Fatalf("err = %v, want *imap.Error", err)
	}
	if imapErr.Type != imap.StatusResponseTypeBye || imapErr.Code != imap.ResponseCodeUnavailable {
		t.Errorf("error = %+v", imapErr)
	}
}

func TestDial_GreetingWithLeftover(t *testing.T) {
	server := imaptest.Start(t, imaptest.HandlerFunc(func(c *imaptest.Conn) {
		if err := c.Write([]byte("* OK hello\r\n* 2 EXISTS\r\n")); err != nil {
			return
		}
		echoOK(c)
	}), imaptest.GreetingOption(""))

	s, err := Dial(context.Background(), server.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	if len(s.Greeting().Caps) != 0 {
		t.Errorf("Caps = %v, want none", s.Greeting().Caps)
	}

	f, err := s.Execute(&testCommand{line: "NOOP"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	resp, err := waitResponse(t, f)
	if err != nil {
		t.Fatalf("response error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("final = %q", resp.Final())
	}
}

func TestDial_GreetingTimeout(t *testing.T) {
	server := imaptest.Start(t, imaptest.HandlerFunc(func(c *imaptest.Conn) {
		_, _ = c.ReadLine()
	}), imaptest.GreetingOption(""))

	start := time.Now()
	_, err := Dial(context.Background(), server.Addr(), DialTimeoutOption(100*time.Millisecond))
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded cause", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("greeting timeout not applied")
	}
}

func TestDial_Refused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := Dial(context.Background(), addr, DialTimeoutOption(time.Second)); err == nil {
		t.Error("expected dial error")
	}
}

func TestReadGreeting_AfterRun(t *testing.T) {
	s := startSession(t)

	deadline := time.Now().Add(5 * time.Second)
	for !s.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("session never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := s.ReadGreeting(context.Background()); err == nil {
		t.Error("ReadGreeting after Run succeeded")
	}
}

func TestParseGreeting(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		status  imap.StatusResponseType
		caps    int
	}{
		{"* OK [CAPABILITY IMAP4rev1 SASL-IR] ready\r\n", false, imap.StatusResponseTypeOK, 2},
		{"* OK ready\r\n", false, imap.StatusResponseTypeOK, 0},
		{"* PREAUTH hi\r\n", false, imap.StatusResponseTypePreAuth, 0},
		{"* BYE no\r\n", true, imap.StatusResponseTypeBye, 0},
		{"* NO busy\r\n", true, imap.StatusResponseTypeNo, 0},
		{"a1 OK tagged\r\n", true, "", 0},
	}

	for _, tt := range tests {
		g, err := parseGreeting(Frame(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseGreeting(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if g == nil {
			continue
		}
		if g.Status != tt.status {
			t.Errorf("parseGreeting(%q) status = %q, want %q", tt.in, g.Status, tt.status)
		}
		if len(g.Caps) != tt.caps {
			t.Errorf("parseGreeting(%q) caps = %v, want %d", tt.in, g.Caps, tt.caps)
		}
	}
}
