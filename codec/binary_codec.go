package codec

import (
	"encoding/binary"
	"math"

	"chan-rpc/message"

	"github.com/pkg/errors"
)

var ErrShortBuffer = errors.New("BinaryCodec: truncated message")

// BinaryCodec lays out the envelope fields with length prefixes and keeps the
// dynamically typed values (args, result, error) in a JSON section:
//
//	kind(1) | chanLen(2) chan | idLen(2) id | methodLen(2) method | valuesLen(4) values
type BinaryCodec struct{}

type valueSection struct {
	Args   []any `json:"a,omitempty"`
	Result any   `json:"r,omitempty"`
	Error  any   `json:"e,omitempty"`
}

var values = &JSONCodec{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *message.Message
	msg, ok := v.(*message.Message)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *message.Message")
	}
	for _, s := range []string{msg.ChannelName, msg.ID, msg.Method} {
		if len(s) > math.MaxUint16 {
			return nil, errors.Errorf("BinaryCodec: field too long (%d bytes)", len(s))
		}
	}

	section, err := values.Encode(&valueSection{
		Args:   msg.Args,
		Result: msg.Result,
		Error:  message.ErrorPayload(msg.Error),
	})
	if err != nil {
		return nil, err
	}

	total := 1 + 2 + len(msg.ChannelName) + 2 + len(msg.ID) + 2 + len(msg.Method) + 4 + len(section)
	buf := make([]byte, total)

	buf[0] = byte(msg.Kind)
	offset := 1
	offset = putString(buf, offset, msg.ChannelName)
	offset = putString(buf, offset, msg.ID)
	offset = putString(buf, offset, msg.Method)

	// values length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(section)))
	offset += 4
	copy(buf[offset:], section)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *message.Message
	msg, ok := v.(*message.Message)
	if !ok {
		return errors.New("BinaryCodec: v must be *message.Message")
	}
	if len(data) < 1 {
		return ErrShortBuffer
	}

	msg.Kind = message.Kind(data[0])
	offset := 1

	var err error
	if msg.ChannelName, offset, err = readString(data, offset); err != nil {
		return err
	}
	if msg.ID, offset, err = readString(data, offset); err != nil {
		return err
	}
	if msg.Method, offset, err = readString(data, offset); err != nil {
		return err
	}

	if len(data) < offset+4 {
		return ErrShortBuffer
	}
	sectionLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+sectionLen {
		return ErrShortBuffer
	}

	var section valueSection
	if err := values.Decode(data[offset:offset+sectionLen], &section); err != nil {
		return err
	}
	msg.Args = section.Args
	msg.Result = section.Result
	msg.Error = section.Error
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func putString(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:offset+len(s)], s)
	return offset + len(s)
}

func readString(data []byte, offset int) (string, int, error) {
	if len(data) < offset+2 {
		return "", offset, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+n {
		return "", offset, ErrShortBuffer
	}
	return string(data[offset : offset+n]), offset + n, nil
}
