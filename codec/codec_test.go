package codec

import (
	"encoding/json"
	"reflect"
	"testing"

	"chan-rpc/message"
	"chan-rpc/transfer"
)

func roundTrip(t *testing.T, c Codec, msg *message.Message) *message.Message {
	t.Helper()
	data, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("%s Encode failed: %v", c.Type(), err)
	}
	var decoded message.Message
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("%s Decode failed: %v", c.Type(), err)
	}
	return &decoded
}

func TestCodecs(t *testing.T) {
	for _, c := range []Codec{GetCodec(CodecTypeJSON), GetCodec(CodecTypeBinary)} {
		req := message.NewRequest("arith", "id-1", "add", []any{1, 2})
		decoded := roundTrip(t, c, req)

		if decoded.Kind != message.KindRequest || decoded.ChannelName != "arith" ||
			decoded.ID != "id-1" || decoded.Method != "add" {
			t.Errorf("%s: envelope mismatch: %+v", c.Type(), decoded)
		}
		if len(decoded.Args) != 2 {
			t.Fatalf("%s: expect 2 args, got %v", c.Type(), decoded.Args)
		}
		var a int
		if err := Convert(decoded.Args[0], &a); err != nil || a != 1 {
			t.Errorf("%s: expect first arg 1, got %v (%v)", c.Type(), decoded.Args[0], err)
		}

		resp := roundTrip(t, c, message.NewError(req, "boom"))
		if resp.Kind != message.KindResponse || resp.Error != "boom" || resp.Result != nil {
			t.Errorf("%s: error response mismatch: %+v", c.Type(), resp)
		}
	}
}

func TestBinaryCodecRejectsTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(message.NewRequest("default", "id", "m", nil))
	if err != nil {
		t.Fatal(err)
	}
	var msg message.Message
	if err := c.Decode(data[:len(data)-3], &msg); err == nil {
		t.Fatal("expect truncated input to fail")
	}
	if err := c.Decode(data, "not a message"); err == nil {
		t.Fatal("expect wrong target type to fail")
	}
}

func TestParseCodecType(t *testing.T) {
	cases := map[string]CodecType{"json": CodecTypeJSON, "": CodecTypeJSON, "binary": CodecTypeBinary}
	for name, want := range cases {
		got, ok := ParseCodecType(name)
		if !ok || got != want {
			t.Errorf("ParseCodecType(%q) = %v, %v; want %v", name, got, ok, want)
		}
	}
	if _, ok := ParseCodecType("gob"); ok {
		t.Error("expect gob to be rejected")
	}
}

func TestConvert(t *testing.T) {
	var n int64
	if err := Convert(json.Number("42"), &n); err != nil || n != 42 {
		t.Fatalf("expect 42, got %d (%v)", n, err)
	}

	type point struct{ X, Y int }
	var p point
	if err := Convert(map[string]any{"X": float64(1), "Y": float64(2)}, &p); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p, point{1, 2}) {
		t.Fatalf("expect {1 2}, got %+v", p)
	}

	buf := transfer.NewBuffer([]byte("same"))
	var out *transfer.Buffer
	if err := Convert(buf, &out); err != nil || out != buf {
		t.Fatal("assignable pointers must pass through without copying")
	}

	var fromWire *transfer.Buffer
	encoded, _ := json.Marshal(buf)
	var generic any
	_ = json.Unmarshal(encoded, &generic)
	if err := Convert(generic, &fromWire); err != nil || string(fromWire.Bytes()) != "same" {
		t.Fatalf("expect buffer decoded from wire form, got %v (%v)", fromWire, err)
	}

	if err := Convert(1, p); err == nil {
		t.Fatal("expect non-pointer target to fail")
	}
}
