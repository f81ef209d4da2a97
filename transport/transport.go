// Package transport defines the message-passing primitive the correlation engine
// runs on, and ships adapters for it.
//
// A Transport delivers every message arriving from the peer to every registered
// listener; Requesters and Responders sharing an endpoint filter by channel name
// and message kind themselves.
//
//	coordinator                        worker
//	  Requester ─┐                   ┌─ Responder
//	             ├─ Endpoint ═══ Endpoint ─┤
//	  Responder ─┘   (Pipe / Stream)   └─ Requester
//
// Adapters:
//   - Pipe:    two in-process endpoints; buffers in the transfer list are moved without copying.
//   - Stream:  framed messages over an io.Reader/io.Writer pair; transferred bytes travel inline.
//   - Process: a Stream wired to a spawned worker's stdin/stdout.
package transport

import (
	"time"

	"chan-rpc/codec"
	"chan-rpc/message"
	"chan-rpc/protocol"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("transport: closed")

// Listener receives every message delivered to an endpoint. Listeners run on the
// endpoint's delivery goroutine and must not block; the message is shared by all
// listeners and must be treated as read-only.
type Listener func(msg *message.Message)

type Transport interface {
	// Send delivers msg to the peer. Every handle in transferList is moved: after a
	// successful Send the sender's handles are detached. A list that cannot be
	// moved fails the whole Send and leaves the handles untouched. Adapters
	// document the cases where a Send fails after the handles were moved.
	Send(msg *message.Message, transferList []any) error

	// OnMessage registers l for every message from the peer and returns the
	// function that removes it again.
	OnMessage(l Listener) (release func())
}

// Lifecycle is implemented by transports that can end. Done is closed once no
// further message will be delivered; Err returns the cause, nil after a plain Close.
type Lifecycle interface {
	Done() <-chan struct{}
	Err() error
}

type config struct {
	codec     codec.Codec
	queueSize int
	heartbeat time.Duration
	maxFrame  int
	logger    *logrus.Entry
}

type Option func(*config)

// WithCodec makes a Pipe clone every message through c, the way a structured
// clone would, and selects the frame codec of a Stream.
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithQueueSize bounds the number of undelivered messages per Pipe endpoint.
func WithQueueSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.queueSize = n
		}
	}
}

// WithHeartbeat makes a Stream write keep-alive frames at the given interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(cfg *config) { cfg.heartbeat = interval }
}

// WithMaxFrameSize lowers the largest message body a Stream will write. Larger
// messages fail their Send with protocol.ErrBodyTooLarge. Values above
// protocol.MaxBodyLen are ignored.
func WithMaxFrameSize(n int) Option {
	return func(cfg *config) {
		if n > 0 && uint64(n) <= uint64(protocol.MaxBodyLen) {
			cfg.maxFrame = n
		}
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(cfg *config) { cfg.logger = logger }
}

func newConfig(opts []Option) *config {
	cfg := &config{queueSize: 1024, maxFrame: int(protocol.MaxBodyLen)}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.WithField("component", "transport")
	}
	return cfg
}
