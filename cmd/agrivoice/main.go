// Command agrivoice serves farming advice over HTTP and WebSocket, and runs
// one-shot advice and live voice sessions from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/agrivoice/internal/dotenv"
	"github.com/vango-go/agrivoice/pkg/gateway/config"
)

const version = "0.3.0"

type cliDeps struct {
	loadConfig   func(path string) (config.Config, error)
	newRuntime   func(ctx context.Context, cfg config.Config, opts runtimeOptions) (*runtime, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
	stdout       io.Writer
	stderr       io.Writer
}

func defaultDeps() cliDeps {
	return cliDeps{
		loadConfig: config.Load,
		newRuntime: newRuntime,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd(ctx context.Context, deps cliDeps) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "agrivoice",
		Short: "Farming advice with live voice",
		Long: `agrivoice gathers weather, soil and market data for a location, turns it
into a farming plan, narrates it, and answers spoken questions in a live
voice session.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.stdout)
	root.SetErr(deps.stderr)
	root.SetContext(ctx)

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (default $AGRI_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", os.Getenv("AGRI_LOG_FORMAT"), "log format: text|json (default: text on a terminal)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOr("AGRI_LOG_LEVEL", "info"), "log level: debug|info|warn|error")

	root.AddCommand(newServeCmd(flags, deps))
	root.AddCommand(newAdviseCmd(flags, deps))
	root.AddCommand(newVoiceCmd(flags, deps))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runMain(ctx context.Context, args []string, deps cliDeps) int {
	if deps.stderr == nil {
		deps.stderr = os.Stderr
	}
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(deps.stderr, "agrivoice: %v\n", err)
		return 1
	}

	root := newRootCmd(ctx, deps)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(deps.stderr, "agrivoice: %v\n", err)
		return 1
	}
	return 0
}

// shutdownTimeout bounds closing the runtime after a command ends.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], defaultDeps()))
}
