package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
)

var sweepFlags struct {
	days   int
	dryRun bool
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the retention sweep once",
	Long: `Archive usage counters older than the retention window and purge aged
entries from the degraded fallback, then exit.

Run from an external scheduler when serve's built-in schedule is disabled.

Examples:
  tally sweep
  tally sweep --days 90
  tally sweep --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("days") {
			cfg.Retention.Days = sweepFlags.days
		}
		return runSweep(cmd.Context(), cfg, sweepFlags.dryRun, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().IntVar(&sweepFlags.days, "days", 0, "override the retention window in days")
	sweepCmd.Flags().BoolVar(&sweepFlags.dryRun, "dry-run", false, "report the cutoff and eligible counters without archiving")
}

func runSweep(ctx context.Context, cfg *config.Config, dryRun bool, w io.Writer) error {
	if err := config.Validate(cfg); err != nil {
		return cli.WrapConfigError(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	c, err := openStore(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	defer c.Close()

	cutoff := c.sweeper.Cutoff(time.Now())
	if dryRun {
		keys, err := c.durable.ListBefore(ctx, cutoff)
		if err != nil {
			return cli.NewCommandError("sweep", err)
		}
		fmt.Fprintf(w, "Cutoff: %s\n", cutoff)
		fmt.Fprintf(w, "Eligible counters: %d\n", len(keys))
		return nil
	}

	res, err := c.sweeper.Sweep(ctx)
	fmt.Fprintf(w, "Cutoff: %s\n", res.Cutoff)
	fmt.Fprintf(w, "Archived: %d\n", res.Archived)
	fmt.Fprintf(w, "Purged from fallback: %d\n", res.Deleted)
	fmt.Fprintf(w, "Duration: %s\n", res.Duration)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
