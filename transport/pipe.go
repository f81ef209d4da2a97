package transport

import (
	"sync"

	"chan-rpc/message"
	"chan-rpc/transfer"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Endpoint is one side of an in-process Pipe. Each endpoint owns a delivery
// goroutine that drains its inbox one message at a time, so listeners of the
// same endpoint never run concurrently.
type Endpoint struct {
	name      string
	peer      *Endpoint
	cfg       *config
	listeners listenerSet
	inbox     chan *message.Message
	done      chan struct{}
	closeOnce sync.Once
	link      *link
	logger    *logrus.Entry
}

// link is shared by both endpoints of a pipe and breaks when either closes.
type link struct {
	once sync.Once
	done chan struct{}
}

func (l *link) sever() {
	l.once.Do(func() { close(l.done) })
}

// NewPipe returns two connected endpoints: what one sends, the other's
// listeners receive.
func NewPipe(opts ...Option) (*Endpoint, *Endpoint) {
	cfg := newConfig(opts)
	a := newEndpoint("a", cfg)
	b := newEndpoint("b", cfg)
	a.peer, b.peer = b, a
	a.link = &link{done: make(chan struct{})}
	b.link = a.link
	go a.loop()
	go b.loop()
	return a, b
}

func newEndpoint(name string, cfg *config) *Endpoint {
	return &Endpoint{
		name:   name,
		cfg:    cfg,
		inbox:  make(chan *message.Message, cfg.queueSize),
		done:   make(chan struct{}),
		logger: cfg.logger.WithField("endpoint", name),
	}
}

func (e *Endpoint) Name() string { return e.name }

// Done is closed as soon as either endpoint of the pipe is closed.
func (e *Endpoint) Done() <-chan struct{} { return e.link.done }

// Err returns ErrClosed once the pipe is broken.
func (e *Endpoint) Err() error {
	select {
	case <-e.link.done:
		return ErrClosed
	default:
		return nil
	}
}

// Send moves the transfer list before queueing the message. If the peer closes
// while Send waits on its full inbox, Send fails with ErrClosed and the handles
// stay detached.

func (e *Endpoint) Send(msg *message.Message, transferList []any) error {
	select {
	case <-e.done:
		return ErrClosed
	case <-e.peer.done:
		return ErrClosed
	default:
	}

	out, err := e.clone(msg, transferList)
	if err != nil {
		return err
	}

	select {
	case e.peer.inbox <- out:
		return nil
	case <-e.peer.done:
		return ErrClosed
	case <-e.done:
		return ErrClosed
	}
}

// clone produces the peer's copy of msg. With a codec the message goes through
// encode/decode and transferred bytes are copied inline; without one values are
// handed over directly and moved buffers are rebound to fresh handles.
func (e *Endpoint) clone(msg *message.Message, transferList []any) (*message.Message, error) {
	if err := transfer.Validate(transferList); err != nil {
		return nil, err
	}

	if e.cfg.codec != nil {
		data, err := e.cfg.codec.Encode(msg)
		if err != nil {
			return nil, errors.Wrap(err, "transport: encode message")
		}
		if _, err := transfer.Move(transferList); err != nil {
			return nil, err
		}
		out := new(message.Message)
		if err := e.cfg.codec.Decode(data, out); err != nil {
			return nil, errors.Wrap(err, "transport: decode message")
		}
		return out, nil
	}

	moves, err := transfer.Move(transferList)
	if err != nil {
		return nil, err
	}
	out := &message.Message{
		Kind:        msg.Kind,
		ChannelName: msg.ChannelName,
		ID:          msg.ID,
		Method:      msg.Method,
		Result:      moves.Rebind(msg.Result),
		Error:       moves.Rebind(msg.Error),
	}
	if msg.Args != nil {
		out.Args = make([]any, len(msg.Args))
		for i, arg := range msg.Args {
			out.Args[i] = moves.Rebind(arg)
		}
	}
	return out, nil
}

func (e *Endpoint) OnMessage(l Listener) func() {
	return e.listeners.add(l)
}

// Listeners reports how many listeners are registered.
func (e *Endpoint) Listeners() int {
	return e.listeners.len()
}

// Close stops delivery on this endpoint; sends in either direction fail with ErrClosed.
// Undelivered messages are dropped.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.link.sever()
		e.logger.Debug("endpoint closed")
	})
	return nil
}

func (e *Endpoint) loop() {
	for {
		select {
		case msg := <-e.inbox:
			e.listeners.dispatch(msg, e.logger)
		case <-e.done:
			return
		}
	}
}
