package middleware

import (
	"context"

	"chan-rpc/message"

	"golang.org/x/time/rate"
)

// ErrRateLimited is the value raised for requests rejected by RateLimitMiddleware.
const ErrRateLimited = "rate limit exceeded"

// RateLimitMiddleware admits r requests per second with bursts of up to burst,
// using a token bucket shared by every method.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.NewError(req, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
