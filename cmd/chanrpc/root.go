package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chan-rpc/codec"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "0.3.0"

// config is what the flags, CHANRPC_* variables and .env files resolve to.
type config struct {
	Channel   string
	Codec     codec.CodecType
	Timeout   time.Duration
	Heartbeat time.Duration
	LogLevel  logrus.Level
	Metrics   bool
}

var (
	cfg = &config{}

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "chanrpc",
		Short: "request/response calls between a coordinator and a worker process",
		Long: fmt.Sprintf(`chanrpc (v%s)

Correlates calls and results between two isolated processes connected by
a message stream. Flags can also be set as CHANRPC_<FLAG> environment
variables (e.g. CHANRPC_LOG_LEVEL=debug) or in a .env file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: processConfig,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of chanrpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chanrpc v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(workerCmd)
	RootCmd.AddCommand(demoCmd)
	RootCmd.AddCommand(versionCmd)

	flags := RootCmd.PersistentFlags()
	flags.String("channel", "default", "channel name both sides agree on")
	flags.String("codec", "json", "wire codec (json, binary)")
	flags.Duration("timeout", 0, "per-call timeout, 0 waits forever")
	flags.Duration("heartbeat", 0, "heartbeat interval on the stream, 0 disables it")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("metrics", false, "dump request metrics to stderr on exit")
}

// initConfig loads .env files and maps CHANRPC_* variables onto the flags.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("chanrpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	ct, ok := codec.ParseCodecType(viper.GetString("codec"))
	if !ok {
		return errors.Errorf("invalid codec: %s (expected json or binary)", viper.GetString("codec"))
	}
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	cfg.Channel = viper.GetString("channel")
	cfg.Codec = ct
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Heartbeat = viper.GetDuration("heartbeat")
	cfg.LogLevel = level
	cfg.Metrics = viper.GetBool("metrics")

	// stdout may carry frames, logs always go to stderr
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(level)
	return nil
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
