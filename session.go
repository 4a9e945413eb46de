// Package imapnio provides an asynchronous IMAP client session engine.
// It frames the server byte stream into responses, including literal
// payloads that span reads, and drives one command at a time through its
// request, continuation and tagged completion, with idle timeout detection
// and in-place transport changes such as COMPRESS=DEFLATE.
package imapnio

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errSessionClosed ends the dispatch loop after a client-requested Close.
var errSessionClosed = errors.New("session closed by client")

// logPreviewLimit bounds the bytes of a line echoed into debug logs.
const logPreviewLimit = 256

type requestKind int

const (
	requestExecute requestKind = iota
	requestTerminate
	requestClose
)

// request is work posted from a caller goroutine onto the dispatch loop.
type request struct {
	kind   requestKind
	cmd    Command
	future *Future[*Response]
	reply  chan terminateReply
	closed *Future[struct{}]
}

type terminateReply struct {
	future *Future[*Response]
	err    error
}

type readEvent struct {
	data []byte
	err  error
}

// Session owns one server connection and at most one outstanding command.
//
// All decoding, command state and writes happen on a single dispatch loop
// started by Run. Execute, Terminate and Close may be called from any
// goroutine; they only read the atomic flags below and post work to the loop.
type Session struct {
	id       string
	rawConn  net.Conn
	pipe     *pipeline
	decoder  *Decoder
	logger   Logger
	greeting *Greeting

	opts options

	active     atomic.Bool
	busy       atomic.Bool // a command is outstanding or being handed to the loop
	running    atomic.Bool
	compressed atomic.Bool

	requests chan request
	reads    chan readEvent
	resume   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	err      error // set once before done is closed

	// Owned by the dispatch loop.
	tagSeq  uint64
	current *commandEntry
	closers []*Future[struct{}]
	idle    *time.Timer
}

// NewSession wraps an established connection whose greeting has already been
// consumed. Use Dial to connect, read the greeting and start the session in
// one step. The returned session does nothing until Run is called.
func NewSession(conn net.Conn, opt ...Option) (*Session, error) {
	if conn == nil {
		return nil, errors.New("imapnio: nil connection")
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return newSessionWithOptions(conn, opts), nil
}

func newSessionWithOptions(conn net.Conn, opts options) *Session {
	s := &Session{
		id:       uuid.NewString(),
		rawConn:  conn,
		pipe:     newPipeline(conn),
		decoder:  NewDecoder(opts.maxLineLength),
		logger:   opts.logger,
		opts:     opts,
		requests: make(chan request),
		reads:    make(chan readEvent),
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() net.Addr {
	return s.rawConn.RemoteAddr()
}

// IsActive reports whether the session still accepts commands. Once false it
// never becomes true again.
func (s *Session) IsActive() bool {
	return s.active.Load()
}

// Compressed reports whether COMPRESS=DEFLATE is active.
func (s *Session) Compressed() bool {
	return s.compressed.Load()
}

// Greeting returns the server greeting read by Dial, or nil.
func (s *Session) Greeting() *Greeting {
	return s.greeting
}

// Done returns a channel closed once the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the session. It is nil while the
// session runs and after a client-requested Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Run starts the session's reader and dispatch loop and blocks until the
// session ends. It returns nil after Close, and the cause otherwise.
// The connection is always closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.active.Load() {
		return ErrClosedChannel
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("imapnio: session already running")
	}
	return s.run(ctx)
}

func (s *Session) run(ctx context.Context) error {
	s.logger.Info("session started", "session_id", s.id, "addr", s.Addr())
	s.logger.Debug("session options", "session_id", s.id,
		"idle_timeout", s.opts.idleTimeout,
		"max_line_length", s.opts.maxLineLength,
		"read_buffer_size", s.opts.readBufferSize,
		"stages", s.pipe.names())

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.dispatchLoop(child)
	})

	err := group.Wait()
	if errors.Is(err, errSessionClosed) {
		s.logger.Info("session closed", "session_id", s.id, "addr", s.Addr())
		return nil
	}

	s.logger.Info("session closed with error", "session_id", s.id, "addr", s.Addr(), "error", err)
	return err
}

// Execute sends cmd as the session's next command. It fails immediately with
// ErrCommandNotAllowed while another command is outstanding and with
// ErrClosedChannel once the session is inactive or before Run has started;
// none of these touches the connection. Otherwise the returned future
// resolves exactly once.
func (s *Session) Execute(cmd Command) (*Future[*Response], error) {
	if !s.active.Load() {
		return nil, ErrClosedChannel
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrCommandNotAllowed
	}
	if !s.running.Load() {
		s.busy.Store(false)
		return nil, newError(FailureClosedChannel, errors.New("session not running"))
	}

	future := newFuture[*Response]()
	if err := s.post(request{kind: requestExecute, cmd: cmd, future: future}); err != nil {
		s.busy.Store(false)
		return nil, err
	}
	return future, nil
}

// Terminate writes cmd's terminate form, e.g. DONE for IDLE, while a command
// is outstanding. It returns the future of the outstanding command.
func (s *Session) Terminate(cmd Command) (*Future[*Response], error) {
	if !s.active.Load() {
		return nil, ErrClosedChannel
	}
	if !s.busy.Load() {
		return nil, ErrNoCommandOutstanding
	}

	reply := make(chan terminateReply, 1)
	if err := s.post(request{kind: requestTerminate, cmd: cmd, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r.future, r.err
	case <-s.done:
		select {
		case r := <-reply:
			return r.future, r.err
		default:
			return nil, ErrClosedChannel
		}
	}
}

// Close closes the session. The returned future resolves once the connection
// is closed and any outstanding command has been failed. Safe to call
// multiple times.
func (s *Session) Close() *Future[struct{}] {
	if !s.active.Load() {
		return resolvedFuture(struct{}{})
	}

	if !s.running.Load() {
		s.closeNotRunning()
		return resolvedFuture(struct{}{})
	}

	closed := newFuture[struct{}]()
	if err := s.post(request{kind: requestClose, closed: closed}); err != nil {
		return resolvedFuture(struct{}{})
	}
	return closed
}

func (s *Session) closeNotRunning() {
	if s.active.Swap(false) {
		_ = s.rawConn.Close()
		s.finish(nil)
		s.logger.Info("session closed", "session_id", s.id, "addr", s.Addr())
	}
}

// finish records the terminal cause and closes done, at most once.
func (s *Session) finish(cause error) {
	s.doneOnce.Do(func() {
		s.err = cause
		close(s.done)
	})
}

func (s *Session) post(req request) error {
	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return ErrClosedChannel
	}
}

// readLoop reads from the top of the transport pipeline and hands each chunk
// to the dispatch loop. It waits for the chunk to be fully dispatched before
// reading again, so a stage inserted while dispatching sees every later byte.
func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, s.opts.readBufferSize)
	for {
		n, err := s.pipe.reader().Read(buf)
		if n > 0 {
			select {
			case s.reads <- readEvent{data: bytes.Clone(buf[:n])}:
			case <-ctx.Done():
				return nil
			}
			select {
			case <-s.resume:
			case <-ctx.Done():
				return nil
			}
		}

		if err != nil {
			s.logger.Debug("read error", "session_id", s.id, "error", err)
			select {
			case s.reads <- readEvent{err: err}:
			case <-ctx.Done():
			}
			return nil
		}
	}
}

// dispatchLoop is the session's serialized execution context. It always
// returns a non-nil error, which ends Run.
func (s *Session) dispatchLoop(ctx context.Context) (err error) {
	s.idle = time.NewTimer(s.opts.idleTimeout)
	defer s.idle.Stop()
	defer func() {
		s.teardown(err)
	}()

	// Responses that arrived together with the greeting.
	if err := s.dispatchBuffered(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return newError(FailureDisconnected, ctx.Err())

		case req := <-s.requests:
			if err := s.handleRequest(req); err != nil {
				return err
			}

		case ev := <-s.reads:
			if ev.err != nil {
				return newError(FailureDisconnected, ev.err)
			}
			s.idle.Reset(s.opts.idleTimeout)
			s.decoder.Feed(ev.data)
			if err := s.dispatchBuffered(); err != nil {
				return err
			}
			s.resume <- struct{}{}

		case <-s.idle.C:
			s.idle.Reset(s.opts.idleTimeout)
			if err := s.onIdle(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleRequest(req request) error {
	switch req.kind {
	case requestExecute:
		return s.startCommand(req.cmd, req.future)
	case requestTerminate:
		return s.terminateCommand(req)
	case requestClose:
		s.closers = append(s.closers, req.closed)
		return errSessionClosed
	default:
		return errors.Errorf("unknown request kind %d", req.kind)
	}
}

func (s *Session) nextTag() string {
	s.tagSeq++
	return fmt.Sprintf("%s%d", s.opts.tagPrefix, s.tagSeq)
}

func (s *Session) startCommand(cmd Command, future *Future[*Response]) error {
	tag := s.nextTag()
	entry := newCommandEntry(tag, cmd, future)

	b, err := cmd.Command(tag)
	if err != nil {
		s.busy.Store(false)
		future.fail(newError(FailureChannelException, errors.Wrap(err, "build command")))
		return nil
	}

	s.current = entry
	return s.send(entry, b)
}

func (s *Session) terminateCommand(req request) error {
	entry := s.current
	if entry == nil {
		req.reply <- terminateReply{err: ErrNoCommandOutstanding}
		return nil
	}

	b, err := req.cmd.Terminate()
	if err != nil {
		req.reply <- terminateReply{err: newError(FailureChannelException, err)}
		return nil
	}

	err = s.write(entry.tag, req.cmd, b)
	req.reply <- terminateReply{future: entry.future}
	return err
}

// send writes command bytes for entry and moves it to RequestSent.
func (s *Session) send(entry *commandEntry, b []byte) error {
	entry.state = RequestInPreparation
	if err := s.write(entry.tag, entry.cmd, b); err != nil {
		return err
	}
	entry.state = RequestSent
	entry.sentAt = time.Now()
	return nil
}

func (s *Session) write(tag string, cmd Command, b []byte) error {
	if isSensitive(cmd) {
		s.logger.Debug("send", "session_id", s.id, "tag", tag, "size", len(b), "data", "<redacted>")
	} else {
		s.logger.Debug("send", "session_id", s.id, "tag", tag, "size", len(b), "data", preview(b))
	}

	if s.opts.writeTimeout > 0 {
		_ = s.rawConn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	}
	if err := s.pipe.write(b); err != nil {
		s.logger.Debug("write error", "session_id", s.id, "tag", tag, "error", err)
		return newError(FailureWrite, err)
	}

	// The server's silence is measured from our last write as well.
	s.idle.Reset(s.opts.idleTimeout)
	return nil
}

func (s *Session) dispatchBuffered() error {
	for {
		frame, ok, err := s.decoder.Next()
		if err != nil {
			return newError(FailureDecode, err)
		}
		if !ok {
			return nil
		}
		if err := s.onFrame(frame); err != nil {
			return err
		}
	}
}

func (s *Session) onFrame(f Frame) error {
	entry := s.current
	if entry == nil {
		s.logger.Debug("recv without outstanding command", "session_id", s.id, "size", len(f), "data", preview(f))
		return nil
	}

	s.logger.Debug("recv", "session_id", s.id, "tag", entry.tag, "size", len(f), "data", preview(f))
	entry.frames = append(entry.frames, f)

	switch {
	case f.IsContinuation():
		return s.onContinuation(entry, f)
	case f.Tag() == entry.tag:
		return s.onTagged(entry)
	default:
		return nil
	}
}

func (s *Session) onContinuation(entry *commandEntry, f Frame) error {
	b, err := entry.cmd.Continue(f)
	if err != nil {
		return newError(FailureChannelException, errors.Wrap(err, "build continuation"))
	}
	if b == nil {
		s.logger.Debug("continuation without reply", "session_id", s.id, "tag", entry.tag)
		return nil
	}
	return s.send(entry, b)
}

func (s *Session) onTagged(entry *commandEntry) error {
	entry.state = ResponsesDone
	resp := entry.response()

	if aug, ok := entry.cmd.(AugmentingCommand); ok && resp.OK() {
		if stage := aug.Augmentation(); stage != nil {
			if err := s.pipe.insert(stage, s.decoder.Drain()); err != nil {
				return newError(FailureAugmentation, err)
			}
			if stage.Name() == StageDeflate {
				s.compressed.Store(true)
			}
			s.logger.Info("transport stage inserted", "session_id", s.id,
				"stage", stage.Name(), "stages", s.pipe.names())
		}
	}

	s.current = nil
	s.busy.Store(false)
	if !entry.future.succeed(resp) {
		s.logger.Debug("response for cancelled command dropped", "session_id", s.id, "tag", entry.tag)
	}
	return nil
}

func (s *Session) onIdle() error {
	entry := s.current
	switch {
	case entry == nil, entry.state != RequestSent, isIdleAllowed(entry.cmd):
		return nil
	}

	s.logger.Warn("idle timeout", "session_id", s.id, "tag", entry.tag,
		"since_sent", time.Since(entry.sentAt))
	return newError(FailureIdleTimeout, errors.Errorf("server silent for %s", s.opts.idleTimeout))
}

// teardown makes the session permanently inactive, closes the transport and
// fails the outstanding command with cause.
func (s *Session) teardown(cause error) {
	s.active.Store(false)
	if err := s.pipe.close(); err != nil {
		s.logger.Debug("close error", "session_id", s.id, "error", err)
	}

	if entry := s.current; entry != nil {
		failure := cause
		if errors.Is(cause, errSessionClosed) {
			failure = newError(FailureDisconnected, cause)
		} else if _, ok := FailureTypeOf(cause); !ok {
			failure = newError(FailureDisconnected, cause)
		}
		s.logger.Warn("failing outstanding command", "session_id", s.id,
			"tag", entry.tag, "state", entry.state, "error", failure)
		entry.future.fail(failure)
		s.current = nil
	}
	s.busy.Store(false)

	if errors.Is(cause, errSessionClosed) {
		cause = nil
	}
	s.finish(cause)
	for _, closed := range s.closers {
		closed.succeed(struct{}{})
	}
}

func preview(b []byte) string {
	b = bytes.TrimRight(b, "\r\n")
	if len(b) > logPreviewLimit {
		return string(b[:logPreviewLimit]) + "..."
	}
	return string(b)
}
