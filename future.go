package imapnio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FutureState is the state of a Future.
type FutureState int

const (
	FuturePending FutureState = iota
	FutureSucceeded
	FutureFailed
	FutureCancelled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureSucceeded:
		return "succeeded"
	case FutureFailed:
		return "failed"
	case FutureCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FutureState(%d)", int(s))
	}
}

// ErrFutureCancelled is returned by Wait and Poll on a cancelled future.
var ErrFutureCancelled = errors.New("imapnio: future cancelled")

// Future is a single-assignment result handle. It resolves exactly once, to a
// value, a failure, or cancellation.
type Future[T any] struct {
	mu    sync.Mutex
	state FutureState
	value T
	err   error
	done  chan struct{}
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.succeed(v)
	return f
}

// succeed resolves the future with v. It reports false if the future was
// already resolved.
func (f *Future[T]) succeed(v T) bool {
	return f.resolve(FutureSucceeded, v, nil)
}

// fail resolves the future with err. It reports false if the future was
// already resolved.
func (f *Future[T]) fail(err error) bool {
	var zero T
	return f.resolve(FutureFailed, zero, err)
}

func (f *Future[T]) resolve(state FutureState, v T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FuturePending {
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	close(f.done)
	return true
}

// Cancel marks the future as cancelled for the caller's benefit. Bytes that
// were already handed to the transport are not recalled. It reports false if
// the future was already resolved.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.resolve(FutureCancelled, zero, ErrFutureCancelled)
}

// State returns the current state.
func (f *Future[T]) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool {
	return f.State() != FuturePending
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Poll returns the result without blocking. ok is false while pending.
func (f *Future[T]) Poll() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FuturePending {
		return v, nil, false
	}
	return f.value, f.err, true
}

// Wait blocks until the future is resolved or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Poll()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTimeout blocks until the future is resolved or timeout elapses.
func (f *Future[T]) WaitTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Wait(ctx)
}
