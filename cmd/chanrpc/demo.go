package main

import (
	"context"
	"fmt"
	"os"

	"chan-rpc/channel"
	"chan-rpc/client"
	"chan-rpc/codec"
	"chan-rpc/transfer"
	"chan-rpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Spawn a worker and call it",
	Long: `Spawn "chanrpc worker" as a child process and run a few calls against it:
add(2, 3), fail(), echoBuffer(...) and Upper("hello").`,
	RunE: runDemo,
}

// api is the worker's interface as seen from the coordinator.
type api struct {
	Add        func(ctx context.Context, a, b int) (int, error)             `rpc:"add"`
	Fail       func(ctx context.Context) error                              `rpc:"fail"`
	EchoBuffer func(ctx context.Context, buf any) (*transfer.Buffer, error) `rpc:"echoBuffer"`
	Upper      func(ctx context.Context, s string) (string, error)
}

func runDemo(cmd *cobra.Command, _ []string) error {
	logger := logrus.WithField("component", "coordinator")

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "locate executable")
	}
	args := []string{"worker",
		"--channel", cfg.Channel,
		"--codec", cfg.Codec.String(),
		"--log-level", cfg.LogLevel.String(),
		fmt.Sprintf("--metrics=%t", cfg.Metrics),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	proc, err := transport.Spawn(ctx, self, args,
		transport.WithCodec(codec.GetCodec(cfg.Codec)),
		transport.WithHeartbeat(cfg.Heartbeat),
		transport.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer proc.Close()
	logger.WithField("pid", proc.Pid()).Debug("worker started")

	tx := channel.New(cfg.Channel).CreateTx(proc,
		client.WithLogger(logger),
		client.WithTimeout(cfg.Timeout),
	)
	defer tx.Close()

	var w api
	if err := tx.Bind(&w); err != nil {
		return err
	}

	sum, err := w.Add(ctx, 2, 3)
	report("add(2, 3)", sum, err)

	err = w.Fail(ctx)
	report("fail()", nil, err)

	buf := transfer.NewBuffer([]byte("hello, worker"))
	echoed, err := w.EchoBuffer(ctx, transfer.Mark(buf))
	if err == nil {
		report("echoBuffer(buf)", fmt.Sprintf("%q (sender detached: %t)", echoed.Bytes(), buf.Detached()), nil)
	} else {
		report("echoBuffer(buf)", nil, err)
	}

	upper, err := w.Upper(ctx, "hello")
	report(`Upper("hello")`, upper, err)
	return nil
}

func report(call string, result any, err error) {
	if err != nil {
		if v, ok := client.ErrorValue(err); ok {
			fmt.Printf("%s %s rejected with %s\n", Cyan(call), Red("✗"), Red(fmt.Sprint(v)))
			return
		}
		fmt.Printf("%s %s %v\n", Cyan(call), Red("✗"), err)
		return
	}
	fmt.Printf("%s %s %v\n", Cyan(call), Green("→"), result)
}
