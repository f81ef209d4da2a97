// Package transfer implements the transfer marker: a wrapper that declares which
// buffers inside a call argument or handler result must be moved across the
// transport instead of copied.
//
// A marked value travels through the engine as an opaque *Marked. Only the
// correlation engine inspects the tag; callers pass the wrapper wherever the
// plain value would go.
//
//	buf := transfer.NewBuffer(data)
//	tx.Call(ctx, "process", transfer.Mark(buf))        // buf is moved, list = [buf]
//	tx.Call(ctx, "process", transfer.Mark(req, a, b))  // req is copied, a and b are moved
package transfer

// tag is the private marker type. Only markTag, compared by pointer identity,
// satisfies IsMarked, so no decoded or hand-built value can pass for a marker.
type tag struct{ _ byte }

var markTag = &tag{}

// Marked is a value paired with the transfer list that must be moved along with it.
type Marked struct {
	tag   *tag
	value any
	list  []any
}

// Mark wraps value for transfer. Without explicit transferables the value itself
// is the single entry of the transfer list; otherwise the list is kept verbatim.
func Mark(value any, transferables ...any) *Marked {
	list := transferables
	if len(list) == 0 {
		list = []any{value}
	}
	return &Marked{tag: markTag, value: value, list: list}
}

// IsMarked reports whether x was produced by Mark.
func IsMarked(x any) bool {
	m, ok := x.(*Marked)
	return ok && m != nil && m.tag == markTag
}

// Unwrap splits a marked value into its inner value and transfer list.
// Unmarked values are returned unchanged with a nil list.
func Unwrap(x any) (any, []any) {
	if !IsMarked(x) {
		return x, nil
	}
	m := x.(*Marked)
	return m.value, m.list
}

// Value returns the wrapped value.
func (m *Marked) Value() any { return m.value }

// List returns the transfer list.
func (m *Marked) List() []any { return m.list }
