package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"chan-rpc/channel"
	"chan-rpc/codec"
	"chan-rpc/middleware"
	"chan-rpc/server"
	"chan-rpc/transfer"
	"chan-rpc/transport"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve the demo handlers over stdin/stdout",
	Long: `Serve the demo handlers over stdin/stdout until stdin is closed.
This is the child side of "chanrpc demo"; nothing but frames is written to stdout.`,
	RunE: runWorker,
}

// Demo is the worker's handler table. Its exported methods are served
// alongside the lowercase aliases in demoReceivers.
type Demo struct{}

func (Demo) Upper(s string) string { return strings.ToUpper(s) }

func (Demo) Sleep(ctx context.Context, ms int) (int, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return ms, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func demoReceivers() (map[string]any, error) {
	table, err := server.Receivers(Demo{})
	if err != nil {
		return nil, err
	}
	table["add"] = func(a, b int) int { return a + b }
	table["fail"] = func() error { return errors.New("boom") }
	table["echoBuffer"] = func(buf *transfer.Buffer) any { return transfer.Mark(buf) }
	return table, nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	logger := logrus.WithFields(logrus.Fields{"component": "worker", "pid": os.Getpid()})

	stream := transport.Stdio(
		transport.WithCodec(codec.GetCodec(cfg.Codec)),
		transport.WithHeartbeat(cfg.Heartbeat),
		transport.WithLogger(logger),
	)
	receivers, err := demoReceivers()
	if err != nil {
		return err
	}
	set := metrics.NewSet()
	rx, err := channel.New(cfg.Channel).Rx(stream, receivers,
		server.WithLogger(logger),
		server.WithMiddleware(
			middleware.LoggingMiddleware(logger),
			middleware.MetricsMiddleware(set),
		),
	)
	if err != nil {
		return err
	}
	logger.WithField("channel", rx.Channel()).Infof("serving %d methods", len(rx.Methods()))

	// the coordinator closing our stdin ends the conversation
	<-stream.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rx.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	if cfg.Metrics {
		set.WritePrometheus(os.Stderr)
	}
	if err := stream.Err(); err != nil && errors.Cause(err) != io.EOF {
		return errors.Wrap(err, "worker stream")
	}
	return nil
}
