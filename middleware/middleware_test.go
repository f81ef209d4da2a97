package middleware

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chan-rpc/message"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
)

// echoHandler answers with the first argument.
func echoHandler(ctx context.Context, req *message.Message) *message.Message {
	return message.NewResult(req, req.Args[0])
}

// slowHandler sleeps 200ms before answering.
func slowHandler(ctx context.Context, req *message.Message) *message.Message {
	time.Sleep(200 * time.Millisecond)
	return message.NewResult(req, "late")
}

func newReq() *message.Message {
	return message.NewRequest("default", "1", "echo", []any{"ok"})
}

func TestLogging(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&out)
	logger.SetLevel(logrus.DebugLevel)

	handler := LoggingMiddleware(logrus.NewEntry(logger))(echoHandler)
	resp := handler(context.Background(), newReq())
	if resp.Result != "ok" || resp.ID != "1" {
		t.Fatalf("expect correlated ok, got %+v", resp)
	}
	if !strings.Contains(out.String(), "method=echo") {
		t.Fatalf("expect method field in log, got %q", out.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)
	resp := handler(context.Background(), newReq())
	if resp.Failed() {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)
	resp := handler(context.Background(), newReq())
	if resp.Error != ErrTimedOut {
		t.Fatalf("expect timeout error, got %v", resp.Error)
	}
	if resp.ID != "1" || !resp.IsResponse() {
		t.Fatalf("expect correlated response, got %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		if resp := handler(context.Background(), newReq()); resp.Failed() {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}
	if resp := handler(context.Background(), newReq()); resp.Error != ErrRateLimited {
		t.Fatalf("request 3 should be rate limited, got: %v", resp.Error)
	}
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(ctx context.Context, req *message.Message) *message.Message {
		if attempts.Add(1) < 3 {
			return message.NewError(req, "upstream timeout")
		}
		return message.NewResult(req, "ok")
	}
	resp := RetryMiddleware(3, time.Millisecond, nil)(flaky)(context.Background(), newReq())
	if resp.Failed() || attempts.Load() != 3 {
		t.Fatalf("expect success on attempt 3, got %v after %d", resp.Error, attempts.Load())
	}

	attempts.Store(0)
	fatal := func(ctx context.Context, req *message.Message) *message.Message {
		attempts.Add(1)
		return message.NewError(req, "boom")
	}
	resp = RetryMiddleware(3, time.Millisecond, nil)(fatal)(context.Background(), newReq())
	if resp.Error != "boom" || attempts.Load() != 1 {
		t.Fatalf("expect no retry for boom, got %v after %d", resp.Error, attempts.Load())
	}
}

func TestMetrics(t *testing.T) {
	set := metrics.NewSet()
	handler := MetricsMiddleware(set)(echoHandler)
	handler(context.Background(), newReq())
	handler(context.Background(), newReq())

	var out bytes.Buffer
	set.WritePrometheus(&out)
	if !strings.Contains(out.String(), `chanrpc_requests_total{channel="default",method="echo"} 2`) {
		t.Fatalf("expect request counter, got:\n%s", out.String())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) *message.Message {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	handler := Chain(mark("a"), mark("b"), TimeoutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), newReq())
	if resp.Failed() {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("expect a,b order, got %v", order)
	}
}
