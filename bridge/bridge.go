// Package bridge marshals work from concurrent callers onto a single
// serialized execution context owned by the host application.
//
// Hosts that cannot tolerate concurrent mutation (GUI loops, simulation
// ticks, embedded interpreters) drain the bridge from their own run loop;
// callers submit a unit of work and block until that unit has executed on
// the host's turn. Units are executed strictly in FIFO submission order
// and never concurrently with each other.
//
// Two drain styles are supported:
//
//	// Dedicated goroutine or run loop:
//	go b.Run(ctx)
//
//	// Host-owned frame/tick loop:
//	for running {
//	    b.RunPending()
//	    renderFrame()
//	}
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

var (
	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("bridge: closed")

	// ErrTimeout is returned by Submit when the host context did not
	// execute the unit within the configured submit timeout.
	ErrTimeout = errors.New("bridge: host context timeout")
)

// Func is a unit of work executed on the host context. The context is the
// submitting caller's; a unit may observe its cancellation but is never
// forcibly interrupted once running.
type Func func(ctx context.Context) (any, error)

// unit pairs a Func with its completion slot. done is buffered so the
// host never blocks signalling a submitter that has already given up.
type unit struct {
	ctx  context.Context
	fn   Func
	done chan outcome
}

type outcome struct {
	value any
	err   error
}

// Bridge is the submission queue between HTTP workers and the host's
// serialized execution context. The zero value is not usable; call New.
type Bridge struct {
	queue   chan *unit
	timeout time.Duration
	logger  pslog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	running atomic.Int32
	drained atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger supplies a structured logger. Defaults to a no-op logger.
func WithLogger(l pslog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithQueueSize bounds the number of units that may be queued ahead of
// the host draining them. Defaults to 64. Submitters block (subject to
// their context and the submit timeout) when the queue is full.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan *unit, n)
		}
	}
}

// WithSubmitTimeout bounds how long Submit waits for the host context to
// execute a unit. Zero disables the timeout and Submit blocks until the
// caller's context is done. Defaults to 30s.
func WithSubmitTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// New constructs a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		queue:   make(chan *unit, 64),
		timeout: 30 * time.Second,
		logger:  pslog.NoopLogger(),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit enqueues fn for execution on the host context and blocks until
// the host has executed it, returning fn's result or error.
//
// Submit returns ErrTimeout if the host does not complete the unit within
// the submit timeout, ctx.Err() if the caller's context is done first,
// and ErrClosed if the bridge has been closed. A unit that was already
// queued when its submitter gave up still executes on the host turn; its
// result is discarded.
func (b *Bridge) Submit(ctx context.Context, fn Func) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("bridge: nil func")
	}

	var expired <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		expired = t.C
	}

	u := &unit{ctx: ctx, fn: fn, done: make(chan outcome, 1)}

	select {
	case b.queue <- u:
	case <-b.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, ErrTimeout
	}

	select {
	case out := <-u.done:
		return out.value, out.err
	case <-b.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		b.logger.Warn("bridge: submit timed out waiting for host context",
			"timeout", b.timeout, "depth", b.Depth())
		return nil, ErrTimeout
	}
}

// Run drains the bridge until ctx is done or the bridge is closed. It is
// intended to be called from the host's serialized execution context
// (typically a dedicated goroutine the host treats as its main turn).
func (b *Bridge) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case u := <-b.queue:
			b.exec(u)
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return ErrClosed
		}
	}
}

// RunPending executes every unit queued at the time of the call and
// returns the number executed. Hosts with their own frame or event loop
// call this once per turn.
func (b *Bridge) RunPending() int {
	n := 0
	for {
		select {
		case u := <-b.queue:
			b.exec(u)
			n++
		default:
			return n
		}
	}
}

// exec runs one unit, converting a panic into an error so a faulting
// handler can never take down the host's drain loop.
func (b *Bridge) exec(u *unit) {
	b.running.Store(1)
	defer b.running.Store(0)

	var out outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("bridge: handler panic", "panic", fmt.Sprintf("%v", r))
				out = outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		v, err := u.fn(u.ctx)
		out = outcome{value: v, err: err}
	}()

	b.drained.Add(1)
	u.done <- out
}

// Close releases the bridge. Blocked and future submitters receive
// ErrClosed; units already handed to the host finish normally. Close is
// idempotent and safe from any goroutine.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// Depth reports the number of units queued and not yet started.
func (b *Bridge) Depth() int {
	return len(b.queue)
}

// Running reports whether a unit is executing on the host context.
func (b *Bridge) Running() bool {
	return b.running.Load() == 1
}

// Executed reports the total number of units the host has completed.
func (b *Bridge) Executed() int64 {
	return b.drained.Load()
}
