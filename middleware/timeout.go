package middleware

import (
	"context"
	"time"

	"chan-rpc/message"
)

// ErrTimedOut is the value raised for requests cut off by TimeoutMiddleware.
const ErrTimedOut = "request timed out"

// TimeoutMiddleware fails a request that takes longer than timeout. The handler
// keeps running with a cancelled context; its late result is discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewError(req, ErrTimedOut)
			}
		}
	}
}
