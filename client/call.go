package client

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Call is an outstanding request. Done is closed once Reply or Error is set.
type Call struct {
	ID     string
	Method string
	Args   []any
	Reply  any
	Error  error
	Done   chan struct{}

	once sync.Once
}

func newCall(method string, args []any) *Call {
	return &Call{
		Method: method,
		Args:   args,
		Done:   make(chan struct{}),
	}
}

// settle resolves the call exactly once; later attempts are no-ops.
func (c *Call) settle(reply any, err error) {
	c.once.Do(func() {
		c.Reply = reply
		c.Error = err
		close(c.Done)
	})
}

// RemoteError is the failure a handler raised on the other side. Value is the
// raised value as it arrived: the error or panic value itself over an
// in-process pipe, its serialized form over a stream.
type RemoteError struct {
	Value any
}

func (e *RemoteError) Error() string {
	switch v := e.Value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return fmt.Sprint(e.Value)
}

// Unwrap exposes the raised value to errors.Is and errors.As when it is an error.
func (e *RemoteError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// ErrorValue returns the raw value raised by the remote handler, if err carries one.
func ErrorValue(err error) (any, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Value, true
	}
	return nil, false
}
