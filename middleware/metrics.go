package middleware

import (
	"context"
	"fmt"
	"time"

	"chan-rpc/message"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsMiddleware counts requests and failures and records handler latency per
// channel and method:
//
//	chanrpc_requests_total{channel="default",method="add"}
//	chanrpc_request_errors_total{channel="default",method="add"}
//	chanrpc_request_duration_seconds{channel="default",method="add"}
//
// A nil set registers the metrics in the global set.
func MetricsMiddleware(set *metrics.Set) Middleware {
	counter := metrics.GetOrCreateCounter
	histogram := metrics.GetOrCreateHistogram
	if set != nil {
		counter = set.GetOrCreateCounter
		histogram = set.GetOrCreateHistogram
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			labels := fmt.Sprintf("{channel=%q,method=%q}", req.ChannelName, req.Method)
			start := time.Now()
			resp := next(ctx, req)

			counter("chanrpc_requests_total" + labels).Inc()
			if resp.Failed() {
				counter("chanrpc_request_errors_total" + labels).Inc()
			}
			histogram("chanrpc_request_duration_seconds" + labels).UpdateDuration(start)
			return resp
		}
	}
}
