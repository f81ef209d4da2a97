package middleware

import (
	"context"
	"time"

	"chan-rpc/message"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs every request with its duration, and the raised value
// of failed ones.
func LoggingMiddleware(logger *logrus.Entry) Middleware {
	if logger == nil {
		logger = logrus.WithField("component", "responder")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			entry := logger.WithFields(logrus.Fields{
				"channel":  req.ChannelName,
				"id":       req.ID,
				"method":   req.Method,
				"duration": time.Since(start),
			})
			if resp.Failed() {
				entry.Warnf("request failed: %v", resp.Error)
				return resp
			}
			entry.Debug("request served")
			return resp
		}
	}
}
