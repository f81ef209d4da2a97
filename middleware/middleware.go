// Package middleware wraps the Responder's handler in an onion of cross-cutting
// concerns. Chain(A, B, C)(h) runs A.before → B.before → C.before → h → C.after
// → B.after → A.after.
package middleware

import (
	"context"

	"chan-rpc/message"
)

// HandlerFunc answers one request. It always returns a response correlated
// with req, built with message.NewResult or message.NewError.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
