// Package imaptest provides a scripted loopback IMAP server for tests.
//
// Each accepted connection receives the configured greeting and is then handed
// to a Handler, which reads commands and writes responses line by line. The
// connection can switch to COMPRESS=DEFLATE at any point of the script.
package imaptest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// DefaultGreeting is sent to every client unless GreetingOption overrides it.
const DefaultGreeting = "* OK [CAPABILITY IMAP4rev1 IDLE COMPRESS=DEFLATE AUTH=PLAIN] imaptest ready"

// Handler scripts the server side of one connection.
type Handler interface {
	Handle(c *Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Conn)

// Handle calls f(c).
func (f HandlerFunc) Handle(c *Conn) {
	f(c)
}

// Server accepts loopback connections and runs a Handler on each of them.
type Server struct {
	listener *net.TCPListener
	logger   *slog.Logger
	greeting string

	mu       sync.Mutex
	shutdown bool
	conns    []*Conn
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// GreetingOption sets the greeting line, without CRLF. An empty greeting
// sends nothing and leaves the first bytes to the handler.
func GreetingOption(line string) ServerOption {
	return func(s *Server) {
		s.greeting = line
	}
}

// LoggerOption sets the logger for the server.
func LoggerOption(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server listening on a random loopback port.
func New(opts ...ServerOption) (*Server, error) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
		greeting: DefaultGreeting,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start creates a server, serves handler in the background and registers
// Close with t.Cleanup.
func Start(t testing.TB, handler Handler, opts ...ServerOption) *Server {
	t.Helper()

	s, err := New(opts...)
	if err != nil {
		t.Fatalf("imaptest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = s.Serve(ctx, handler)
	}()

	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})
	return s
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Debug("imaptest server started", "addr", s.listener.Addr())

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = s.listener.SetDeadline(time.Now())
	})
	defer stop()

	for {
		raw, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("imaptest accept error", "error", err)
			return err
		}

		_ = raw.SetNoDelay(true)
		c := NewConn(raw)

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			_ = c.Close()
			return ctx.Err()
		}
		s.conns = append(s.conns, c)
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer c.Close()

			if s.greeting != "" {
				if err := c.WriteLine(s.greeting); err != nil {
					s.logger.Debug("imaptest greeting failed", "error", err)
					return
				}
			}
			handler.Handle(c)
		}()
	}
}

// Close stops accepting, closes every open connection and waits for the
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return err
}

// Addr returns the listener address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Conn is the server side of one connection.
type Conn struct {
	raw net.Conn

	r  *bufio.Reader
	bw *bufio.Writer
	w  io.Writer
	fw *flate.Writer
}

// NewConn wraps the server side of an established connection.
func NewConn(raw net.Conn) *Conn {
	bw := bufio.NewWriter(raw)
	return &Conn{
		raw: raw,
		r:   bufio.NewReader(raw),
		bw:  bw,
		w:   bw,
	}
}

// Raw returns the underlying connection.
func (c *Conn) Raw() net.Conn {
	return c.raw
}

// ReadLine reads one line and returns it without the CRLF.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadCommand reads one command line and splits off its tag.
func (c *Conn) ReadCommand() (tag, rest string, err error) {
	line, err := c.ReadLine()
	if err != nil {
		return "", "", err
	}

	tag, rest, _ = strings.Cut(line, " ")
	return tag, rest, nil
}

// ReadFull reads exactly n bytes, such as the payload of a literal.
func (c *Conn) ReadFull(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Queue formats a line and buffers it with a CRLF without sending it.
func (c *Conn) Queue(format string, args ...any) error {
	_, err := fmt.Fprintf(c.w, format+"\r\n", args...)
	return err
}

// Flush sends everything queued so far in a single write.
func (c *Conn) Flush() error {
	if c.fw != nil {
		if err := c.fw.Flush(); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

// WriteLine formats a line, appends CRLF and sends it.
func (c *Conn) WriteLine(format string, args ...any) error {
	if err := c.Queue(format, args...); err != nil {
		return err
	}
	return c.Flush()
}

// Write sends b as is.
func (c *Conn) Write(b []byte) error {
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	return c.Flush()
}

// EnableDeflate switches both directions to raw deflate. Bytes queued before
// the switch go out uncompressed ahead of the compressed stream.
func (c *Conn) EnableDeflate() error {
	if c.fw != nil {
		return errors.New("imaptest: deflate already enabled")
	}

	fw, err := flate.NewWriter(c.bw, flate.DefaultCompression)
	if err != nil {
		return errors.Wrap(err, "deflate writer")
	}
	c.fw = fw
	c.w = fw
	c.r = bufio.NewReader(flate.NewReader(c.r))
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}
