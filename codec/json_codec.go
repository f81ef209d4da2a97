package codec

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec uses encoding/json. Numbers are decoded as json.Number so integer
// arguments keep their precision until they are bound to a concrete type.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.WithStack(err)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return errors.WithStack(dec.Decode(v))
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
