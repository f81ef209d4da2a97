package client

import (
	"context"
	"reflect"

	"chan-rpc/codec"

	"github.com/pkg/errors"
)

// Func is a remote method bound to a Requester.
type Func func(ctx context.Context, args ...any) (any, error)

// Method returns a function that calls name on every invocation.
func (r *Requester) Method(name string) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		return r.Call(ctx, name, args...)
	}
}

// Methods binds several names at once.
func (r *Requester) Methods(names ...string) map[string]Func {
	out := make(map[string]Func, len(names))
	for _, name := range names {
		out[name] = r.Method(name)
	}
	return out
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Bind fills every exported func field of the struct ptr points to with a stub
// that calls the remote method of the same name. The `rpc` tag overrides the
// name, and `rpc:"-"` leaves the field alone.
//
// A field must return error or (T, error). An optional leading context.Context
// parameter is used for the call; the remaining parameters are the arguments.
// The result is converted to T with codec.Assign.
//
//	var api struct {
//		Add  func(ctx context.Context, a, b int) (int, error) `rpc:"add"`
//		Fail func() error                                      `rpc:"fail"`
//	}
//	err := requester.Bind(&api)
func (r *Requester) Bind(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.Errorf("client: Bind needs a pointer to a struct, got %T", ptr)
	}
	sv := rv.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.PkgPath != "" || field.Type.Kind() != reflect.Func {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("rpc"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if err := checkStub(field.Type); err != nil {
			return errors.Wrapf(err, "client: field %s", field.Name)
		}
		sv.Field(i).Set(r.stub(name, field.Type))
	}
	return nil
}

func checkStub(ft reflect.Type) error {
	switch ft.NumOut() {
	case 1, 2:
	default:
		return errors.Errorf("must return error or (T, error), has %d results", ft.NumOut())
	}
	if ft.Out(ft.NumOut()-1) != errorType {
		return errors.New("last result must be error")
	}
	return nil
}

func (r *Requester) stub(name string, ft reflect.Type) reflect.Value {
	withCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		first := 0
		if withCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			first = 1
		}

		args := make([]any, 0, len(in))
		for i := first; i < len(in); i++ {
			if ft.IsVariadic() && i == len(in)-1 {
				for j := 0; j < in[i].Len(); j++ {
					args = append(args, in[i].Index(j).Interface())
				}
				continue
			}
			args = append(args, in[i].Interface())
		}

		res, err := r.Call(ctx, name, args...)
		return stubResults(ft, res, err)
	})
}

func stubResults(ft reflect.Type, res any, err error) []reflect.Value {
	out := make([]reflect.Value, ft.NumOut())
	if ft.NumOut() == 2 {
		v := reflect.New(ft.Out(0)).Elem()
		if err == nil {
			if err = codec.Assign(v, res); err != nil {
				v = reflect.Zero(ft.Out(0))
			}
		}
		out[0] = v
	}
	if err != nil {
		out[len(out)-1] = reflect.ValueOf(&err).Elem()
	} else {
		out[len(out)-1] = reflect.Zero(errorType)
	}
	return out
}
