// Command mpmc runs Monte Carlo simulations of molecular systems in the
// grand-canonical, canonical, isothermal-isobaric and microcanonical
// ensembles.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	logger    = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

var (
	rootCmd = &cobra.Command{
		Use:           "mpmc",
		Short:         "Monte Carlo simulations of molecular sorption",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "Run the Markov chains described by the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun, // Defined in run.go
	}

	checkCmd = &cobra.Command{
		Use:   "check [config.yaml]",
		Short: "Check the configuration file and build the initial state",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck, // Defined in run.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")
	rootCmd.AddCommand(runCmd, checkCmd)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unsupported log format %q", format)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("mpmc failed", "err", err)
		stop()
		os.Exit(1)
	}
}
