package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/server"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tally HTTP service",
	Long: `Start the Tally HTTP service with the specified configuration.

The service meters consume calls per identity, rate limits bursts, guards the
completion provider with a circuit breaker and runs the retention sweeper on
its schedule.

Examples:
  # Start with default config
  tally serve

  # Start with custom config
  tally serve --config /etc/tally/tally.yaml

  # Override listen address
  tally serve --listen 0.0.0.0:8080

  # Validate config without starting the service
  tally serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting the service")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	if serveFlags.dryRun {
		if err := config.Validate(cfg); err != nil {
			return cli.WrapConfigError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	return serve(ctx, cfg)
}

// serve runs the service until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	c, err := openStore(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	}()

	if err := c.withRuntime(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}

	logger.Info("Tally starting",
		"version", Version,
		"storage", cfg.Storage.Backend,
		"provider", c.provider.Name(),
		"daily_limit", cfg.Quota.FreeDailyLimit,
		"rate_limit", cfg.RateLimit.Enabled,
		"tracing", c.tracer.Enabled(),
	)

	if err := c.quota.Probe(ctx); err != nil {
		logger.Warn("Durable store unreachable at startup, serving degraded counters", "error", err)
	}

	if cfg.Retention.Enabled {
		if err := c.sweeper.Start(ctx); err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer c.sweeper.Stop()
		logger.Info("Retention sweeper scheduled",
			"schedule", cfg.Retention.Schedule,
			"days", cfg.Retention.Days,
			"next_run", c.sweeper.NextRun(),
		)
	}

	if cfg.Reload.Watch && configPath != "" {
		w, err := config.NewWatcher(configPath, cfg.Reload.Debounce, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", "error", err)
		} else {
			defer w.Stop()
			go func() {
				if err := w.Watch(ctx, c.applyReload); err != nil {
					logger.Error("Config watcher stopped", "error", err)
				}
			}()
		}
	}

	srv, err := server.New(server.Options{
		Accountant: c.accountant,
		Server:     cfg.Server,
		Telemetry:  cfg.Telemetry,
		Checker:    c.checker,
		Metrics:    c.metrics,
		Tracer:     c.tracer,
		Logger:     logger,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	logger.Info("Tally stopped")
	return nil
}
