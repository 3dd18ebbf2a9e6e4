// Package actor provides the mailbox-based execution primitive: one
// goroutine per actor draining a bounded FIFO mailbox, a URI-addressed
// directory, and supervisor fault reporting.
package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"aide/pkg/logx"
	"aide/pkg/proto"
)

// DefaultMailboxSize bounds each mailbox. Overflow blocks the sender
// until space frees up or the send context is cancelled.
const DefaultMailboxSize = 256

// Behavior processes one message at a time. A returned error is fatal to
// the actor: the runtime terminates it and reports a Fault to the
// supervisor channel. Behaviors capture recoverable conditions themselves.
type Behavior interface {
	Receive(ctx context.Context, msg proto.Message) error
}

// Starter is an optional hook invoked on the actor goroutine before the
// first message is processed. A start error is fatal.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is an optional hook invoked on the actor goroutine after the
// mailbox has drained during a graceful stop.
type Stopper interface {
	OnStop(ctx context.Context)
}

// BehaviorFunc adapts a function to the Behavior interface.
type BehaviorFunc func(ctx context.Context, msg proto.Message) error

// Receive implements Behavior.
func (f BehaviorFunc) Receive(ctx context.Context, msg proto.Message) error {
	return f(ctx, msg)
}

// Fault reports the termination of one actor to the supervisor. Sibling
// actors and the process are unaffected.
type Fault struct {
	URI string
	Err error
}

// stopMarker is enqueued by Stop; everything accepted before it is
// processed, then the actor terminates.
type stopMarker struct{}

func (stopMarker) Kind() proto.Kind { return "_STOP" }

// Runtime spawns actors and collects their faults for the supervisor.
type Runtime struct {
	mailboxSize int
	faults      chan Fault
	logger      *logx.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMailboxSize overrides the default mailbox bound.
func WithMailboxSize(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.mailboxSize = n
		}
	}
}

// NewRuntime creates a runtime. Faults() must be drained (typically by a
// Supervisor) or faulting actors will not block but faults may be dropped
// once the buffer fills.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		mailboxSize: DefaultMailboxSize,
		faults:      make(chan Fault, 16),
		logger:      logx.NewLogger("actor"),
		handles:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Faults exposes the fault channel for supervision.
func (r *Runtime) Faults() <-chan Fault { return r.faults }

// Spawn starts one actor: a goroutine draining msg-by-msg from a bounded
// mailbox. The URI is recorded for fault reporting; registration in a
// Directory is the caller's concern.
func (r *Runtime) Spawn(uri string, behavior Behavior) *Handle {
	h := &Handle{
		uri:     uri,
		mailbox: make(chan proto.Message, r.mailboxSize),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.handles[uri] = h
	r.mu.Unlock()

	go r.run(h, behavior)
	return h
}

func (r *Runtime) run(h *Handle, behavior Behavior) {
	defer close(h.done)

	ctx := context.Background()

	if starter, ok := behavior.(Starter); ok {
		if err := r.invokeStart(ctx, starter); err != nil {
			r.fail(h, fmt.Errorf("start: %w", err))
			return
		}
	}

	for msg := range h.mailbox {
		if _, stop := msg.(stopMarker); stop {
			break
		}
		if err := r.invokeReceive(ctx, behavior, msg); err != nil {
			r.fail(h, fmt.Errorf("handling %s: %w", msg.Kind(), err))
			return
		}
	}

	if stopper, ok := behavior.(Stopper); ok {
		stopper.OnStop(ctx)
	}
}

// invokeReceive contains a panic while processing one message so that it
// terminates only this actor, never the process.
func (r *Runtime) invokeReceive(ctx context.Context, behavior Behavior, msg proto.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return behavior.Receive(ctx, msg)
}

func (r *Runtime) invokeStart(ctx context.Context, starter Starter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return starter.OnStart(ctx)
}

// fail reports the fault. Never silently swallowed: if the fault buffer
// is full the error is still logged. It must not take the handle mutex:
// a sender may hold it while parked on a full mailbox, and only the done
// close (after run returns) can release that sender.
func (r *Runtime) fail(h *Handle, err error) {
	r.logger.Error("actor %s terminated: %v", h.uri, err)
	select {
	case r.faults <- Fault{URI: h.uri, Err: err}:
	default:
		r.logger.Error("fault channel full, dropping fault for %s", h.uri)
	}
}

// Handle addresses one live actor. Sends are fire-and-forget: the caller
// blocks only for mailbox space, never for processing.
type Handle struct {
	uri     string
	mailbox chan proto.Message
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

// URI returns the identifier the actor was spawned under.
func (h *Handle) URI() string { return h.uri }

// Send enqueues one message. It blocks while the mailbox is full until
// space frees up or ctx is done. Sending to a stopped actor returns
// ErrStopped.
//
// The stopped check and the enqueue happen under the same mutex Stop
// uses to enqueue its marker, so a nil return means the message precedes
// the marker and will be processed. A send racing an actor fault may
// still be accepted and then lost; the Fault delivered to the supervisor
// is the signal that in-flight work for that actor may be gone.
func (h *Handle) Send(ctx context.Context, msg proto.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), h.uri, ErrStopped)
	}
	select {
	case <-h.done:
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), h.uri, ErrStopped)
	default:
	}

	select {
	case h.mailbox <- msg:
		return nil
	case <-h.done:
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), h.uri, ErrStopped)
	case <-ctx.Done():
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), h.uri, ctx.Err())
	}
}

// Stop requests a graceful stop: messages accepted before the stop are
// still processed, then the actor terminates. Stop blocks until the actor
// has exited or ctx is done. The marker is enqueued under the handle
// mutex, so no sender that passed the stopped check can slip a message
// in behind it.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.stopped {
		select {
		case h.mailbox <- stopMarker{}:
			h.stopped = true
		case <-h.done:
			h.stopped = true
		case <-ctx.Done():
			h.mu.Unlock()
			return fmt.Errorf("stop %s: %w", h.uri, ctx.Err())
		}
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", h.uri, ctx.Err())
	}
}

// Done is closed when the actor goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// MailboxDepth reports the number of queued messages, for metrics.
func (h *Handle) MailboxDepth() int { return len(h.mailbox) }
