// Package server implements the Responder: the answering side of a channel.
//
// Request processing pipeline:
//
//	transport listener → onMessage (filters kind and channel)
//	  → go handleRequest (every request runs independently)
//	    → Middleware Chain → businessHandler (reflect.Call) → respond (unwrap transfer marker → Send)
package server

import (
	"context"
	"fmt"
	"sync"

	"chan-rpc/message"
	"chan-rpc/middleware"
	"chan-rpc/transfer"
	"chan-rpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the channel served when none is configured.
const DefaultChannel = "default"

// Responder dispatches requests on one channel to a fixed table of handlers.
type Responder struct {
	t           transport.Transport
	channel     string
	handlers    map[string]*handler     // read-only after New
	middlewares []middleware.Middleware // applied in order, first is outermost
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	logger      *logrus.Entry

	release func()
	ctx     context.Context // parent of every handler context, cancelled on shutdown
	cancel  context.CancelFunc

	mu       sync.Mutex // guards shutdown and wg.Add
	shutdown bool
	wg       sync.WaitGroup // in-flight requests
}

// Option configures a Responder.
type Option func(*Responder)

// WithChannel serves the named channel. An empty name keeps the default.
func WithChannel(name string) Option {
	return func(r *Responder) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithLogger sets the log entry used by the Responder.
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMiddleware appends middlewares around the handler table.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Responder) {
		r.middlewares = append(r.middlewares, mws...)
	}
}

// New subscribes a Responder to t. Every value of receivers must be a func; its
// parameters receive the request arguments positionally, optionally after a
// leading context.Context, and it may return nothing, a result, an error or
// (result, error). Results wrapped with transfer.Mark are sent with their
// transfer list.
func New(t transport.Transport, receivers map[string]any, opts ...Option) (*Responder, error) {
	r := &Responder{
		t:        t,
		channel:  DefaultChannel,
		handlers: make(map[string]*handler, len(receivers)),
		logger:   logrus.WithField("component", "responder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for name, fn := range receivers {
		h, err := newHandler(name, fn)
		if err != nil {
			return nil, err
		}
		r.handlers[name] = h
	}
	r.logger = r.logger.WithField("channel", r.channel)

	// Build the chain once, not per request.
	r.handler = middleware.Chain(r.middlewares...)(r.businessHandler)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.release = t.OnMessage(r.onMessage)
	return r, nil
}

// Channel returns the channel name the Responder serves.
func (r *Responder) Channel() string { return r.channel }

// Methods returns the names in the handler table.
func (r *Responder) Methods() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Responder) onMessage(msg *message.Message) {
	if !msg.IsRequest() || msg.ChannelName != r.channel {
		return
	}
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	// A slow handler must not hold up the requests behind it.
	go r.handleRequest(msg)
}

func (r *Responder) handleRequest(req *message.Message) {
	defer r.wg.Done()
	// panics outside the handler itself, in middleware or while sending
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{"id": req.ID, "method": req.Method}).
				Errorf("request handling panicked: %v", p)
			if err := r.t.Send(message.NewError(req, fmt.Sprint(p)), nil); err != nil {
				r.logger.WithField("id", req.ID).Errorf("send failure response: %v", err)
			}
		}
	}()

	resp := r.handler(r.ctx, req)
	if resp == nil {
		resp = message.NewResult(req, nil)
	}
	r.respond(req, resp)
}

// respond sends resp. If that fails, for instance because the transfer list is
// invalid, the send error's message is sent as the failure instead.
func (r *Responder) respond(req, resp *message.Message) {
	if transfer.IsMarked(resp.Result) {
		resp.Result, resp.Transfer = transfer.Unwrap(resp.Result)
	}

	err := r.t.Send(resp, resp.Transfer)
	if err == nil {
		return
	}
	entry := r.logger.WithFields(logrus.Fields{"id": req.ID, "method": req.Method})
	entry.Warnf("send response failed: %v", err)
	if errors.Cause(err) == transport.ErrClosed {
		return
	}
	if err := r.t.Send(message.NewError(req, err.Error()), nil); err != nil {
		entry.Errorf("send failure response: %v", err)
	}
}

// businessHandler looks the method up and invokes it. It is wrapped by the
// middleware chain and has the HandlerFunc signature.
func (r *Responder) businessHandler(ctx context.Context, req *message.Message) *message.Message {
	h, ok := r.handlers[req.Method]
	if !ok {
		return message.NewError(req, &UnknownMethodError{Method: req.Method})
	}
	result, raised := h.call(ctx, req.Args)
	if raised != nil {
		return message.NewError(req, raised)
	}
	return message.NewResult(req, result)
}

// Shutdown stops accepting requests and waits for in-flight ones. When ctx is
// done first, handler contexts are cancelled and ctx's error is returned.
func (r *Responder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	r.mu.Unlock()

	r.release()
	defer r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "server: waiting for in-flight requests")
	}
}

// Close is Shutdown without a deadline.
func (r *Responder) Close() error {
	return r.Shutdown(context.Background())
}
