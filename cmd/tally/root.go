package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/security/secrets"
	"mercator-hq/tally/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// configPath is the file loadConfig read, or empty for defaults only.
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally - usage accounting and external-call resilience",
	Long: `Tally meters how often each identity uses AI-assisted features and protects
the completion provider behind them.

It provides:
  - Per-identity daily quotas with premium bypass
  - Sliding-window rate limiting (in-memory or Redis)
  - A circuit breaker around the completion provider
  - Degraded in-process counters when the durable store is down
  - Scheduled retention sweeps of old usage counters`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tally.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads cfgFile with TALLY_* overrides and resolves secret
// references. A missing file is only an error when --config was given
// explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.WrapConfigError(err)
	}
	configPath = path

	resolver, err := secrets.FromConfig(cfg.Secrets, nil)
	if err != nil {
		return nil, cli.NewConfigError("secrets.dir", err.Error())
	}
	if err := resolver.ResolveConfig(context.Background(), cfg); err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}
