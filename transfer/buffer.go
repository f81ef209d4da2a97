package transfer

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDetached        = errors.New("transfer: buffer is detached")
	ErrNotTransferable = errors.New("transfer: value is not transferable")
	ErrDuplicate       = errors.New("transfer: value listed more than once")
)

// Transferable is a handle whose ownership can be moved to another context.
// Implementations must be comparable (pointer types in practice).
type Transferable interface {
	// Detach hands the underlying resource to a new handle and invalidates
	// the receiver. Detaching twice fails with ErrDetached.
	Detach() (Transferable, error)
	Detached() bool
}

// Buffer is a byte buffer that can be moved between contexts without copying.
// After a move the original handle is detached: Bytes returns nil and the
// buffer can no longer be serialized or transferred.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	detached bool
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the buffer contents, or nil once the buffer has been moved.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return nil
	}
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.Bytes())
}

func (b *Buffer) Detached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

func (b *Buffer) Detach() (Transferable, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return nil, ErrDetached
	}
	moved := &Buffer{data: b.data}
	b.data = nil
	b.detached = true
	return moved, nil
}

// MarshalJSON encodes the contents as base64. Serializing transports copy
// buffer bytes inline, so a detached buffer cannot be encoded.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return nil, ErrDetached
	}
	return json.Marshal(b.data)
}

func (b *Buffer) UnmarshalJSON(data []byte) error {
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "transfer: decode buffer")
	}
	b.mu.Lock()
	b.data = raw
	b.detached = false
	b.mu.Unlock()
	return nil
}

// Moves maps every sender-side handle of a transfer list to the handle the
// receiving context owns after the move.
type Moves map[Transferable]Transferable

// Validate checks a transfer list without touching it: every entry must be a
// comparable, attached, non-nil Transferable listed once.
func Validate(list []any) error {
	seen := make(map[Transferable]struct{}, len(list))
	for i, entry := range list {
		t, ok := entry.(Transferable)
		if !ok || isNil(t) || !reflect.TypeOf(t).Comparable() {
			return errors.Wrapf(ErrNotTransferable, "entry %d (%T)", i, entry)
		}
		if _, dup := seen[t]; dup {
			return errors.Wrapf(ErrDuplicate, "entry %d", i)
		}
		if t.Detached() {
			return errors.Wrapf(ErrDetached, "entry %d", i)
		}
		seen[t] = struct{}{}
	}
	return nil
}

func isNil(t Transferable) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Move validates list and then detaches every entry. Nothing is detached when
// validation fails.
func Move(list []any) (Moves, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if err := Validate(list); err != nil {
		return nil, err
	}
	moves := make(Moves, len(list))
	for _, entry := range list {
		t := entry.(Transferable)
		moved, err := t.Detach()
		if err != nil {
			return moves, errors.WithStack(err)
		}
		moves[t] = moved
	}
	return moves, nil
}

// Rebind replaces moved handles inside v with their receiver-side handles. It
// walks pointers, exported struct fields, slices, arrays, maps and marked
// values. Containers on the path to a moved handle are copied, so the sender's
// values are never mutated; everything else is shared as is.
func (m Moves) Rebind(v any) any {
	if len(m) == 0 || v == nil {
		return v
	}
	out, changed := m.rebind(reflect.ValueOf(v), make(map[ref]*rebound))
	if !changed {
		return v
	}
	return out.Interface()
}

// ref identifies a pointer or map; the type tells a struct from its first field.
type ref struct {
	t reflect.Type
	p uintptr
}

// rebound memoizes the walk of a pointer or map, so shared references stay
// shared and cycles terminate. A nil entry means the walk is in progress.
type rebound struct {
	v       reflect.Value
	changed bool
}

func (m Moves) rebind(v reflect.Value, seen map[ref]*rebound) (reflect.Value, bool) {
	if !v.IsValid() || !v.CanInterface() {
		return v, false
	}
	switch x := v.Interface().(type) {
	case *Marked:
		if !IsMarked(x) {
			return v, false
		}
		list := make([]any, len(x.list))
		for i, e := range x.list {
			list[i] = m.Rebind(e)
		}
		return reflect.ValueOf(&Marked{tag: markTag, value: m.Rebind(x.value), list: list}), true
	case Transferable:
		// never descend into a handle's own state
		if isNil(x) || !reflect.TypeOf(x).Comparable() {
			return v, false
		}
		moved, ok := m[x]
		if !ok {
			return v, false
		}
		mv := reflect.ValueOf(moved)
		if !mv.Type().AssignableTo(v.Type()) {
			return v, false
		}
		return mv, true
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v, false
		}
		inner, changed := m.rebind(v.Elem(), seen)
		if !changed {
			return v, false
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(inner)
		return out, true

	case reflect.Ptr:
		if v.IsNil() {
			return v, false
		}
		key := ref{v.Type(), v.Pointer()}
		if r, ok := seen[key]; ok {
			if r == nil {
				return v, false
			}
			return r.v, r.changed
		}
		seen[key] = nil
		inner, changed := m.rebind(v.Elem(), seen)
		if !changed {
			seen[key] = &rebound{v: v}
			return v, false
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(inner)
		seen[key] = &rebound{v: out, changed: true}
		return out, true

	case reflect.Struct:
		var out reflect.Value
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			f, changed := m.rebind(v.Field(i), seen)
			if !changed {
				continue
			}
			if !out.IsValid() {
				out = reflect.New(v.Type()).Elem()
				out.Set(v)
			}
			out.Field(i).Set(f)
		}
		if !out.IsValid() {
			return v, false
		}
		return out, true

	case reflect.Slice, reflect.Array:
		if !mayHold(v.Type().Elem()) || (v.Kind() == reflect.Slice && v.IsNil()) {
			return v, false
		}
		var out reflect.Value
		for i := 0; i < v.Len(); i++ {
			e, changed := m.rebind(v.Index(i), seen)
			if !changed {
				continue
			}
			if !out.IsValid() {
				if v.Kind() == reflect.Slice {
					out = reflect.MakeSlice(v.Type(), v.Len(), v.Len())
					reflect.Copy(out, v)
				} else {
					out = reflect.New(v.Type()).Elem()
					out.Set(v)
				}
			}
			out.Index(i).Set(e)
		}
		if !out.IsValid() {
			return v, false
		}
		return out, true

	case reflect.Map:
		if v.IsNil() || !mayHold(v.Type().Elem()) {
			return v, false
		}
		key := ref{v.Type(), v.Pointer()}
		if r, ok := seen[key]; ok {
			if r == nil {
				return v, false
			}
			return r.v, r.changed
		}
		seen[key] = nil
		elems := make(map[int]reflect.Value)
		keys := v.MapKeys()
		for i, k := range keys {
			if e, changed := m.rebind(v.MapIndex(k), seen); changed {
				elems[i] = e
			}
		}
		if len(elems) == 0 {
			seen[key] = &rebound{v: v}
			return v, false
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for i, k := range keys {
			e, ok := elems[i]
			if !ok {
				e = v.MapIndex(k)
			}
			out.SetMapIndex(k, e)
		}
		seen[key] = &rebound{v: out, changed: true}
		return out, true
	}
	return v, false
}

// mayHold reports whether values of type t can contain a Transferable.
func mayHold(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}
