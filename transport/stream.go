package transport

import (
	"io"
	"sync"
	"time"

	"chan-rpc/codec"
	"chan-rpc/message"
	"chan-rpc/protocol"
	"chan-rpc/transfer"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stream carries framed messages over a byte stream. A single read goroutine
// decodes frames and hands each message to every listener, and writes are
// serialized by a mutex so frames never interleave.
type Stream struct {
	r        io.Reader
	w        io.Writer
	codec    codec.Codec
	maxFrame int
	seq      uint32 // frame counter, guarded by sending
	sending  sync.Mutex

	listeners listenerSet
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	logger    *logrus.Entry
}

// NewStream starts reading frames from r. Messages are written to w with the
// configured codec (JSON by default). If r or w implement io.Closer they are
// closed by Close.
func NewStream(r io.Reader, w io.Writer, opts ...Option) *Stream {
	cfg := newConfig(opts)
	c := cfg.codec
	if c == nil {
		c = codec.GetCodec(codec.CodecTypeJSON)
	}
	s := &Stream{
		r:        r,
		w:        w,
		codec:    c,
		maxFrame: cfg.maxFrame,
		done:     make(chan struct{}),
		logger:   cfg.logger.WithField("codec", c.Type().String()),
	}
	go s.recvLoop()
	if cfg.heartbeat > 0 {
		go s.heartbeatLoop(cfg.heartbeat)
	}
	return s
}

func (s *Stream) Send(msg *message.Message, transferList []any) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := transfer.Validate(transferList); err != nil {
		return err
	}

	body, err := s.codec.Encode(msg)
	if err != nil {
		return errors.Wrap(err, "transport: encode message")
	}
	// the peer would reject the frame and drop the whole stream
	if len(body) > s.maxFrame {
		return errors.Wrapf(protocol.ErrBodyTooLarge, "%d bytes, limit %d", len(body), s.maxFrame)
	}

	msgType := protocol.MsgTypeRequest
	if msg.IsResponse() {
		msgType = protocol.MsgTypeResponse
	}

	s.sending.Lock()
	s.seq++
	header := &protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   msgType,
		Seq:       s.seq,
	}
	err = protocol.Encode(s.w, header, body)
	s.sending.Unlock()
	if err != nil {
		s.fail(err)
		return errors.Wrap(err, "transport: write frame")
	}

	// the bytes are on the wire; the sender gives up its handles
	_, err = transfer.Move(transferList)
	return err
}

func (s *Stream) OnMessage(l Listener) func() {
	return s.listeners.add(l)
}

// Done is closed once the stream stops reading, either through Close or a read error.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the stream, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.shutdown(nil)
	var first error
	if c, ok := s.w.(io.Closer); ok {
		first = c.Close()
	}
	if c, ok := s.r.(io.Closer); ok && any(s.r) != any(s.w) {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Stream) fail(err error) {
	s.shutdown(err)
}

func (s *Stream) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *Stream) recvLoop() {
	for {
		header, body, err := protocol.Decode(s.r)
		if err != nil {
			select {
			case <-s.done:
			default:
				if err != io.EOF {
					s.logger.Warnf("stream read failed: %v", err)
				}
			}
			s.fail(err)
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		msg := new(message.Message)
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
			s.logger.WithField("seq", header.Seq).Warnf("dropping undecodable frame: %v", err)
			continue
		}
		s.listeners.dispatch(msg, s.logger)
	}
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.sending.Lock()
		err := protocol.Encode(s.w, &protocol.Header{
			CodecType: byte(s.codec.Type()),
			MsgType:   protocol.MsgTypeHeartbeat,
		}, nil)
		s.sending.Unlock()
		if err != nil {
			s.fail(err)
			return
		}
	}
}
