package transport

import (
	"io"
	"sync"
	"testing"
	"time"

	"chan-rpc/codec"
	"chan-rpc/message"
	"chan-rpc/protocol"
	"chan-rpc/transfer"

	"github.com/pkg/errors"
)

// collect registers a listener that forwards every message into a channel.
func collect(t Transport) (<-chan *message.Message, func()) {
	ch := make(chan *message.Message, 16)
	release := t.OnMessage(func(msg *message.Message) { ch <- msg })
	return ch, release
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestPipeFanOut(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	first, _ := collect(b)
	second, release := collect(b)
	if b.Listeners() != 2 {
		t.Fatalf("expect 2 listeners, got %d", b.Listeners())
	}

	if err := a.Send(message.NewRequest("default", "1", "add", []any{1, 2}), nil); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, first); msg.ID != "1" {
		t.Fatalf("expect id 1, got %s", msg.ID)
	}
	if msg := receive(t, second); msg.ID != "1" {
		t.Fatalf("expect id 1, got %s", msg.ID)
	}

	release()
	release()
	if b.Listeners() != 1 {
		t.Fatalf("expect 1 listener after release, got %d", b.Listeners())
	}

	if err := a.Send(message.NewRequest("default", "2", "add", nil), nil); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, first); msg.ID != "2" {
		t.Fatalf("expect id 2, got %s", msg.ID)
	}
	select {
	case msg := <-second:
		t.Fatalf("released listener received %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeMovesBuffersWithoutCopy(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()
	in, _ := collect(b)

	data := []byte("payload")
	buf := transfer.NewBuffer(data)
	msg := message.NewRequest("default", "1", "echo", []any{buf, "plain"})
	if err := a.Send(msg, []any{buf}); err != nil {
		t.Fatal(err)
	}

	got := receive(t, in)
	moved, ok := got.Args[0].(*transfer.Buffer)
	if !ok || moved == buf {
		t.Fatalf("expect a fresh buffer handle, got %#v", got.Args[0])
	}
	if &moved.Bytes()[0] != &data[0] {
		t.Fatal("expect moved buffer to share the original backing array")
	}
	if !buf.Detached() {
		t.Fatal("expect sender buffer to be detached")
	}
	if got.Args[1] != "plain" {
		t.Fatalf("expect plain arg untouched, got %v", got.Args[1])
	}
}

func TestPipeRejectsBadTransferList(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	buf := transfer.NewBuffer([]byte("x"))
	err := a.Send(message.NewRequest("default", "1", "m", []any{buf}), []any{buf, 7})
	if errors.Cause(err) != transfer.ErrNotTransferable {
		t.Fatalf("expect ErrNotTransferable, got %v", err)
	}
	if buf.Detached() {
		t.Fatal("failed send must leave buffers attached")
	}
}

func TestPipeWithCodecClones(t *testing.T) {
	a, b := NewPipe(WithCodec(codec.GetCodec(codec.CodecTypeBinary)))
	defer a.Close()
	defer b.Close()
	in, _ := collect(b)

	buf := transfer.NewBuffer([]byte("cloned"))
	args := []any{map[string]any{"k": 1}, buf}
	if err := a.Send(message.NewRequest("default", "1", "m", args), []any{buf}); err != nil {
		t.Fatal(err)
	}

	got := receive(t, in)
	if !buf.Detached() {
		t.Fatal("expect sender buffer to be detached")
	}
	var out *transfer.Buffer
	if err := codec.Convert(got.Args[1], &out); err != nil || string(out.Bytes()) != "cloned" {
		t.Fatalf("expect cloned bytes, got %v (%v)", got.Args[1], err)
	}
	if _, shared := got.Args[0].(map[string]any); !shared {
		t.Fatalf("expect decoded map, got %T", got.Args[0])
	}
}

func TestPipeClosed(t *testing.T) {
	a, b := NewPipe()
	if a.Err() != nil {
		t.Fatalf("expect a live pipe, got %v", a.Err())
	}
	b.Close()
	select {
	case <-a.Done():
	default:
		t.Fatal("expect closing one endpoint to end the other")
	}
	if a.Err() != ErrClosed {
		t.Fatalf("expect ErrClosed, got %v", a.Err())
	}

	buf := transfer.NewBuffer([]byte("kept"))
	if err := a.Send(message.NewRequest("default", "1", "m", []any{buf}), []any{buf}); err != ErrClosed {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if buf.Detached() {
		t.Fatal("expect a send to a closed peer to leave the buffer attached")
	}
	a.Close()
}

func TestStreamRejectsOversizedFrame(t *testing.T) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a := NewStream(r1, w2, WithMaxFrameSize(256))
	b := NewStream(r2, w1)
	defer a.Close()
	defer b.Close()
	in, _ := collect(b)

	big := transfer.NewBuffer(make([]byte, 1024))
	err := a.Send(message.NewRequest("default", "1", "echo", []any{big}), []any{big})
	if errors.Cause(err) != protocol.ErrBodyTooLarge {
		t.Fatalf("expect ErrBodyTooLarge, got %v", err)
	}
	if big.Detached() {
		t.Fatal("expect a rejected frame to leave the buffer attached")
	}

	// the stream is still usable
	if err := a.Send(message.NewRequest("default", "2", "ping", nil), nil); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, in); msg.ID != "2" {
		t.Fatalf("expect id 2, got %s", msg.ID)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		r1, w1 := io.Pipe()
		r2, w2 := io.Pipe()
		a := NewStream(r1, w2, WithCodec(codec.GetCodec(ct)), WithHeartbeat(5*time.Millisecond))
		b := NewStream(r2, w1, WithCodec(codec.GetCodec(ct)))
		in, _ := collect(b)

		buf := transfer.NewBuffer([]byte("over the wire"))
		req := message.NewRequest("default", "42", "echo", []any{buf, 3})
		if err := a.Send(req, []any{buf}); err != nil {
			t.Fatal(err)
		}

		got := receive(t, in)
		if got.ID != "42" || got.Method != "echo" || !got.IsRequest() {
			t.Fatalf("%s: envelope mismatch: %+v", ct, got)
		}
		var out *transfer.Buffer
		if err := codec.Convert(got.Args[0], &out); err != nil || string(out.Bytes()) != "over the wire" {
			t.Fatalf("%s: buffer mismatch: %v (%v)", ct, got.Args[0], err)
		}
		if !buf.Detached() {
			t.Fatalf("%s: expect sender buffer to be detached", ct)
		}

		// let a few heartbeats through; they must not reach listeners
		time.Sleep(20 * time.Millisecond)
		select {
		case extra := <-in:
			t.Fatalf("%s: unexpected message %+v", ct, extra)
		default:
		}

		a.Close()
		select {
		case <-b.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: expect peer stream to stop after close", ct)
		}
		b.Close()
		if err := a.Send(req, nil); err != ErrClosed {
			t.Fatalf("%s: expect ErrClosed, got %v", ct, err)
		}
	}
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	b.OnMessage(func(*message.Message) { panic("listener bug") })
	in, _ := collect(b)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Send(message.NewRequest("default", "x", "m", nil), nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		receive(t, in)
	}
}
