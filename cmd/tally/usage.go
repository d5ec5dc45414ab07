package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/usage"
)

var usageFlags struct {
	premium bool
	output  string
}

var statsFlags struct {
	days   int
	output string
}

var usageCmd = &cobra.Command{
	Use:   "usage <identity>",
	Short: "Show today's usage for an identity",
	Long: `Show today's consumption, limit and reset time for an identity, read from
the configured durable store.

Examples:
  tally usage alice@example.com
  tally usage alice@example.com --premium --output json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runUsage(cmd.Context(), cfg, args[0], usageFlags.premium, usageFlags.output, cmd.OutOrStdout())
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <identity>",
	Short: "Show per-day usage history for an identity",
	Long: `Show per-day usage history for an identity over the last N days, today
included. Archived days are not shown.

Examples:
  tally stats alice@example.com
  tally stats alice@example.com --days 30 --output csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runStats(cmd.Context(), cfg, args[0], statsFlags.days, statsFlags.output, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(statsCmd)

	usageCmd.Flags().BoolVar(&usageFlags.premium, "premium", false, "report as a premium identity")
	usageCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "text", "output format (text, json, csv)")

	statsCmd.Flags().IntVarP(&statsFlags.days, "days", "d", 7, "number of days to report")
	statsCmd.Flags().StringVarP(&statsFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

func runUsage(ctx context.Context, cfg *config.Config, identity string, premium bool, output string, w io.Writer) error {
	formatter, err := formatterFor(output)
	if err != nil {
		return err
	}

	c, err := openStore(ctx, cfg, discardLogger())
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	defer c.Close()

	snap, err := c.quota.GetUsage(ctx, identity, premium)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	if _, ok := formatter.(*cli.JSONFormatter); ok {
		return formatter.FormatTo(w, snap)
	}
	return formatter.FormatTo(w, usageView(snap))
}

func runStats(ctx context.Context, cfg *config.Config, identity string, days int, output string, w io.Writer) error {
	if days < 1 {
		return cli.NewCommandError("stats", fmt.Errorf("--days must be at least 1, got %d", days))
	}
	formatter, err := formatterFor(output)
	if err != nil {
		return err
	}

	c, err := openStore(ctx, cfg, discardLogger())
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	defer c.Close()

	stats, err := c.quota.Statistics(ctx, identity, days)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}

	switch formatter.(type) {
	case *cli.JSONFormatter:
		return formatter.FormatTo(w, stats)
	case *cli.TextFormatter:
		fmt.Fprintf(w, "%s: %d uses on %d active days (%s to %s)\n\n",
			stats.Identity, stats.Total, stats.ActiveDays, stats.From, stats.To)
	}
	return formatter.FormatTo(w, statsView(stats))
}

func formatterFor(output string) (cli.Formatter, error) {
	format, err := cli.ParseFormat(output)
	if err != nil {
		return nil, err
	}
	return cli.NewFormatter(format)
}

// usageView renders a snapshot as a single-row table.
type usageView usage.Snapshot

func (v usageView) Header() []string {
	return []string{"IDENTITY", "DAY", "USED", "LIMIT", "REMAINING", "RESETS", "SOURCE"}
}

func (v usageView) Rows() [][]string {
	limit, remaining := "unlimited", "unlimited"
	if v.Limit != usage.Unlimited {
		limit = strconv.FormatInt(v.Limit, 10)
		remaining = strconv.FormatInt(v.Remaining, 10)
	}
	return [][]string{{
		v.Identity,
		v.Day,
		strconv.FormatInt(v.Used, 10),
		limit,
		remaining,
		v.ResetAt.Format(time.RFC3339),
		string(v.Source),
	}}
}

// statsView renders the daily history.
type statsView usage.Statistics

func (v statsView) Header() []string {
	return []string{"DAY", "SUMMARY", "QUESTION", "TOTAL"}
}

func (v statsView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Daily))
	for _, c := range v.Daily {
		rows = append(rows, []string{
			c.Day,
			strconv.FormatInt(c.SummaryCount, 10),
			strconv.FormatInt(c.QuestionCount, 10),
			strconv.FormatInt(c.TotalCount, 10),
		})
	}
	return rows
}
