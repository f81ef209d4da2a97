package codec

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// Assign stores src into dst. Values whose type is assignable are stored as-is,
// which keeps pointers such as moved buffers intact; anything else (json.Number,
// map[string]any, float64 for an int parameter...) is converted through JSON.
func Assign(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	data, err := json.Marshal(src)
	if err != nil {
		return errors.Wrapf(err, "codec: convert %T to %s", src, dst.Type())
	}
	ptr := reflect.New(dst.Type())
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return errors.Wrapf(err, "codec: convert %T to %s", src, dst.Type())
	}
	dst.Set(ptr.Elem())
	return nil
}

// Convert stores src into the value out points to.
func Convert(src any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("codec: out must be a non-nil pointer, got %T", out)
	}
	return Assign(rv.Elem(), src)
}
