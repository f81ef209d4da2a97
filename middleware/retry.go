package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chan-rpc/message"

	"github.com/sirupsen/logrus"
)

// Retryable decides whether a raised value is worth another attempt.
type Retryable func(raised any) bool

// TransientFailure retries values whose text mentions a timeout.
func TransientFailure(raised any) bool {
	text := fmt.Sprint(message.ErrorPayload(raised))
	return strings.Contains(text, "timeout") || strings.Contains(text, "timed out")
}

// RetryMiddleware re-runs a failed request up to maxRetries times with exponential
// backoff starting at baseDelay, as long as retryable accepts the raised value.
// A nil retryable means TransientFailure.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable Retryable) Middleware {
	if retryable == nil {
		retryable = TransientFailure
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !resp.Failed() || !retryable(resp.Error) {
					return resp
				}
				logrus.WithFields(logrus.Fields{"method": req.Method, "attempt": i + 1}).
					Debugf("retrying after: %v", message.ErrorPayload(resp.Error))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp
				case <-timer.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
