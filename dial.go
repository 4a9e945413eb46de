package imapnio

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/pkg/errors"
)

const codeCapability imap.ResponseCode = "CAPABILITY"

// Greeting is the server's initial untagged response.
type Greeting struct {
	Frame  Frame
	Status imap.StatusResponseType
	Caps   imap.CapSet // from a [CAPABILITY ...] code, empty otherwise
	Text   string
}

// PreAuth reports whether the connection starts authenticated.
func (g *Greeting) PreAuth() bool {
	return g.Status == imap.StatusResponseTypePreAuth
}

// Dial connects to addr, negotiates TLS when TLSOption is given, reads the
// greeting and starts the session. The session keeps running after ctx is
// done; ctx only bounds connection setup, together with DialTimeoutOption.
// Run's result is not returned: watch Done and read Err, or the failure
// delivered to the outstanding command's future.
func Dial(ctx context.Context, addr string, opt ...Option) (*Session, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	setupCtx, cancel := context.WithTimeout(ctx, opts.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(setupCtx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	if opts.tlsConfig != nil {
		tlsConn, err := clientTLS(setupCtx, conn, addr, opts.tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	s := newSessionWithOptions(conn, opts)
	greeting, err := s.ReadGreeting(setupCtx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.logger.Debug("greeting", "session_id", s.id, "status", greeting.Status,
		"caps", len(greeting.Caps), "text", greeting.Text)

	s.running.Store(true)
	go func() {
		_ = s.run(context.WithoutCancel(ctx))
	}()
	return s, nil
}

func clientTLS(ctx context.Context, conn net.Conn, addr string, config *tls.Config) (*tls.Conn, error) {
	cfg := config.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "tls handshake with %s", cfg.ServerName)
	}
	return tlsConn, nil
}

// ReadGreeting reads the server greeting through the session's decoder. It
// must be called before Run; any responses received along with the greeting
// are dispatched once Run starts. OK and PREAUTH greetings are accepted,
// anything else is returned as an *imap.Error.
func (s *Session) ReadGreeting(ctx context.Context) (*Greeting, error) {
	if s.running.Load() {
		return nil, errors.New("imapnio: greeting must be read before Run")
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.rawConn.SetReadDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = s.rawConn.SetReadDeadline(time.Time{})
	}()

	buf := make([]byte, s.opts.readBufferSize)
	var readErr error
	for {
		frame, ok, err := s.decoder.Next()
		if err != nil {
			return nil, newError(FailureDecode, err)
		}
		if ok {
			g, err := parseGreeting(frame)
			if err == nil {
				s.greeting = g
			}
			return g, err
		}

		if readErr != nil {
			if ctx.Err() != nil {
				readErr = ctx.Err()
			}
			return nil, newError(FailureDisconnected, errors.Wrap(readErr, "read greeting"))
		}

		var n int
		n, readErr = s.rawConn.Read(buf)
		s.decoder.Feed(buf[:n])
	}
}

func parseGreeting(f Frame) (*Greeting, error) {
	if !f.IsUntagged() {
		return nil, errors.Errorf("imapnio: unexpected greeting %q", preview(f))
	}

	g := &Greeting{Frame: f, Status: f.Status(), Caps: imap.CapSet{}, Text: f.Text()}
	switch g.Status {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypePreAuth:
	default:
		code, _ := f.Code()
		return g, &imap.Error{Type: g.Status, Code: code, Text: g.Text}
	}

	if code, args := f.Code(); code == codeCapability {
		for _, c := range strings.Fields(args) {
			g.Caps[imap.Cap(c)] = struct{}{}
		}
	}
	return g, nil
}
