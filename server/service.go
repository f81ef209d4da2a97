package server

import (
	"context"
	"reflect"

	"chan-rpc/codec"

	"github.com/pkg/errors"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// UnknownMethodError is raised for requests naming a method the table lacks.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "unknown method: " + e.Method
}

// handler is one entry of the receiver table, a func inspected once at construction.
type handler struct {
	name    string
	fn      reflect.Value
	typ     reflect.Type
	withCtx bool // first parameter is a context.Context
	errOut  bool // last result is an error
}

func newHandler(name string, fn any) (*handler, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, errors.Errorf("server: receiver %q must be a func, got %T", name, fn)
	}
	ft := fv.Type()
	h := &handler{name: name, fn: fv, typ: ft}
	h.withCtx = ft.NumIn() > 0 && ft.In(0) == contextType
	switch ft.NumOut() {
	case 0:
	case 1:
		h.errOut = ft.Out(0) == errorType
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.Errorf("server: receiver %q: second result must be error", name)
		}
		h.errOut = true
	default:
		return nil, errors.Errorf("server: receiver %q returns %d values, at most 2 allowed", name, ft.NumOut())
	}
	return h, nil
}

// call binds args to the parameters positionally and invokes the handler.
// Missing arguments get zero values and extra ones are dropped unless the
// handler is variadic. A returned error or a panic comes back as raised.
func (h *handler) call(ctx context.Context, args []any) (result any, raised any) {
	in, err := h.bind(ctx, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result, raised = nil, r
		}
	}()

	var out []reflect.Value
	if h.typ.IsVariadic() {
		out = h.fn.CallSlice(in)
	} else {
		out = h.fn.Call(in)
	}

	switch {
	case len(out) == 0:
		return nil, nil
	case len(out) == 1 && h.errOut:
		return nil, errorOf(out[0])
	case len(out) == 1:
		return out[0].Interface(), nil
	}
	if err := errorOf(out[1]); err != nil {
		return nil, err
	}
	return out[0].Interface(), nil
}

func (h *handler) bind(ctx context.Context, args []any) ([]reflect.Value, error) {
	ft := h.typ
	in := make([]reflect.Value, 0, ft.NumIn())
	first := 0
	if h.withCtx {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}

	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}
	for i := first; i < fixed; i++ {
		v := reflect.New(ft.In(i)).Elem()
		if pos := i - first; pos < len(args) {
			if err := codec.Assign(v, args[pos]); err != nil {
				return nil, errors.Wrapf(err, "%s: argument %d", h.name, pos)
			}
		}
		in = append(in, v)
	}

	if ft.IsVariadic() {
		elem := ft.In(fixed).Elem()
		rest := 0
		if pos := fixed - first; pos < len(args) {
			rest = len(args) - pos
		}
		slice := reflect.MakeSlice(ft.In(fixed), rest, rest)
		for j := 0; j < rest; j++ {
			pos := fixed - first + j
			if err := codec.Assign(slice.Index(j), args[pos]); err != nil {
				return nil, errors.Wrapf(err, "%s: argument %d as %s", h.name, pos, elem)
			}
		}
		in = append(in, slice)
	}
	return in, nil
}

func errorOf(v reflect.Value) any {
	if v.IsNil() {
		return nil
	}
	return v.Interface()
}

// Receivers builds a receiver table from the exported methods of rcvr, keyed by
// method name.
//
//	type Arith struct{}
//	func (*Arith) Add(a, b int) int { return a + b }
//
//	table, _ := server.Receivers(&Arith{})  // {"Add": (*Arith).Add bound to rcvr}
func Receivers(rcvr any) (map[string]any, error) {
	if rcvr == nil {
		return nil, errors.New("server: nil receiver")
	}
	val := reflect.ValueOf(rcvr)
	typ := val.Type()
	if typ.Kind() == reflect.Ptr && val.IsNil() {
		return nil, errors.Errorf("server: nil %s receiver", typ)
	}

	table := make(map[string]any, typ.NumMethod())
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		table[method.Name] = val.Method(i).Interface()
	}
	if len(table) == 0 {
		return nil, errors.Errorf("server: %s has no exported methods", typ)
	}
	return table, nil
}
