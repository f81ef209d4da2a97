// Package client implements the Requester: the calling side of a channel.
//
// A Requester turns method calls into request messages and parks every caller on
// its own Call until the response with the same id arrives. Responses may come
// back in any order; the pending table routes each one to its caller.
//
//	goroutine-1 ──Go("add")  id=a1──┐
//	goroutine-2 ──Go("echo") id=b7──┼──→ transport ──→ Responder
//	goroutine-3 ──Go("fail") id=c3──┘
//
//	onMessage:  ←── response(id=b7) → pending[b7] → goroutine-2 wakes up
package client

import (
	"context"
	"sync/atomic"
	"time"

	"chan-rpc/codec"
	"chan-rpc/message"
	"chan-rpc/transfer"
	"chan-rpc/transport"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the channel used when none is configured.
const DefaultChannel = "default"

var (
	// ErrClosed settles calls that were pending when the Requester was closed,
	// and every call made afterwards.
	ErrClosed = errors.New("client: requester closed")
	// ErrTimeout settles calls that outlived WithTimeout.
	ErrTimeout = errors.New("client: call timed out")
)

// Requester correlates outgoing requests with incoming responses on one channel.
type Requester struct {
	t       transport.Transport
	channel string
	newID   func() string
	timeout time.Duration
	logger  *logrus.Entry

	pending *xsync.MapOf[string, *Call] // id → caller waiting for its response
	release func()
	closed  atomic.Bool
	quit    chan struct{}       // closed by Close
	life    transport.Lifecycle // nil when the transport cannot end
}

// Option configures a Requester.
type Option func(*Requester)

// WithChannel scopes the Requester to the named channel. An empty name keeps the default.
func WithChannel(name string) Option {
	return func(r *Requester) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithLogger sets the log entry used by the Requester.
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator replaces the random UUID ids. Generated ids must not repeat
// while a call with the same id is pending.
func WithIDGenerator(gen func() string) Option {
	return func(r *Requester) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithTimeout bounds every call. Zero, the default, lets a call wait forever.
func WithTimeout(d time.Duration) Option {
	return func(r *Requester) { r.timeout = d }
}

// New subscribes a Requester to t. Only responses on its channel are considered.
func New(t transport.Transport, opts ...Option) *Requester {
	r := &Requester{
		t:       t,
		channel: DefaultChannel,
		newID:   uuid.NewString,
		logger:  logrus.WithField("component", "requester"),
		pending: xsync.NewMapOf[string, *Call](),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("channel", r.channel)
	r.release = t.OnMessage(r.onMessage)
	if life, ok := t.(transport.Lifecycle); ok {
		r.life = life
		go r.watchTransport()
	}
	return r
}

// Channel returns the channel name the Requester is scoped to.
func (r *Requester) Channel() string { return r.channel }

// Pending reports how many calls are waiting for a response.
func (r *Requester) Pending() int { return r.pending.Size() }

// Go sends a request for method and returns immediately. The returned Call is
// settled when the response arrives, the send fails, the context is done, the
// timeout fires or the Requester is closed, whichever comes first.
//
// Arguments wrapped with transfer.Mark are sent as their inner value, and their
// transfer lists are combined into the transfer list of the request.
func (r *Requester) Go(ctx context.Context, method string, args ...any) *Call {
	call := newCall(method, args)
	if r.closed.Load() {
		call.settle(nil, ErrClosed)
		return call
	}
	if err := ctx.Err(); err != nil {
		call.settle(nil, err)
		return call
	}

	values, transferList := unwrapArgs(args)
	call.ID = r.newID()
	msg := message.NewRequest(r.channel, call.ID, method, values)
	msg.Transfer = transferList

	// Register BEFORE sending: the response can be delivered on another
	// goroutine before Send returns.
	r.pending.Store(call.ID, call)
	if r.closed.Load() {
		r.abandon(call.ID, ErrClosed)
		return call
	}
	if err := r.transportErr(); err != nil {
		r.abandon(call.ID, err)
		return call
	}
	if err := r.send(msg); err != nil {
		r.logger.WithFields(logrus.Fields{"id": call.ID, "method": method}).Debugf("send failed: %v", err)
		r.abandon(call.ID, err)
		return call
	}

	r.watch(ctx, call)
	return call
}

// Call sends a request and waits for its result. A failure raised by the
// handler is returned as a *RemoteError.
func (r *Requester) Call(ctx context.Context, method string, args ...any) (any, error) {
	call := r.Go(ctx, method, args...)
	<-call.Done
	return call.Reply, call.Error
}

// CallInto is Call followed by codec.Convert of the result into reply, which must
// be a non-nil pointer.
func (r *Requester) CallInto(ctx context.Context, reply any, method string, args ...any) error {
	res, err := r.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	return codec.Convert(res, reply)
}

// Close unsubscribes from the transport and settles every pending call with ErrClosed.
// The transport itself is left open.
func (r *Requester) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.quit)
	r.release()
	r.abandonAll(ErrClosed)
	return nil
}

func (r *Requester) abandonAll(err error) {
	r.pending.Range(func(id string, _ *Call) bool {
		r.abandon(id, err)
		return true
	})
}

// send hands msg to the transport. A panicking transport fails the call
// instead of the caller's goroutine.
func (r *Requester) send(msg *message.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("client: send panicked: %v", p)
		}
	}()
	return r.t.Send(msg, msg.Transfer)
}

// transportErr returns the error pending calls are settled with once the
// transport has ended, or nil while it is alive.
func (r *Requester) transportErr() error {
	if r.life == nil {
		return nil
	}
	select {
	case <-r.life.Done():
	default:
		return nil
	}
	if cause := r.life.Err(); cause != nil && errors.Cause(cause) != transport.ErrClosed {
		return errors.Wrapf(transport.ErrClosed, "transport ended: %v", cause)
	}
	return transport.ErrClosed
}

// watchTransport settles every pending call once the transport ends, since no
// response can arrive after that.
func (r *Requester) watchTransport() {
	select {
	case <-r.life.Done():
	case <-r.quit:
		return
	}
	err := r.transportErr()
	r.logger.Debugf("settling pending calls: %v", err)
	r.abandonAll(err)
}

func (r *Requester) onMessage(msg *message.Message) {
	if !msg.IsResponse() || msg.ChannelName != r.channel {
		return
	}
	call, ok := r.pending.LoadAndDelete(msg.ID)
	if !ok {
		// late duplicate, or the caller gave up already
		r.logger.WithField("id", msg.ID).Debug("dropping response without pending call")
		return
	}
	if msg.Failed() {
		call.settle(nil, &RemoteError{Value: msg.Error})
		return
	}
	call.settle(msg.Result, nil)
}

// abandon removes a pending entry and settles it with err. Whoever removes the
// entry settles the call, so a racing response is dropped.
func (r *Requester) abandon(id string, err error) {
	if call, ok := r.pending.LoadAndDelete(id); ok {
		call.settle(nil, err)
	}
}

// watch abandons the call when ctx is done or the timeout fires.
func (r *Requester) watch(ctx context.Context, call *Call) {
	if ctx.Done() == nil && r.timeout <= 0 {
		return
	}
	go func() {
		var timeout <-chan time.Time
		if r.timeout > 0 {
			timer := time.NewTimer(r.timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-call.Done:
		case <-ctx.Done():
			r.abandon(call.ID, ctx.Err())
		case <-timeout:
			r.abandon(call.ID, ErrTimeout)
		}
	}()
}

func unwrapArgs(args []any) ([]any, []any) {
	values := make([]any, len(args))
	var list []any
	for i, arg := range args {
		if !transfer.IsMarked(arg) {
			values[i] = arg
			continue
		}
		v, l := transfer.Unwrap(arg)
		values[i] = v
		list = append(list, l...)
	}
	return values, list
}
