package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with TALLY_* environment overrides applied and
report every validation error.

Examples:
  tally config validate --config tally.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		source := configPath
		if source == "" {
			source = "defaults"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid (%s)\n", source)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after defaults and TALLY_*
environment overrides. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// writeConfig encodes a copy of cfg with secrets masked.
func writeConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = logging.RedactSecret(masked.Provider.APIKey)
	}
	if masked.RateLimit.Redis.Password != "" {
		masked.RateLimit.Redis.Password = logging.RedactSecret(masked.RateLimit.Redis.Password)
	}
	if masked.Storage.Mongo.URI != "" {
		masked.Storage.Mongo.URI = redactURI(masked.Storage.Mongo.URI)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// redactURI masks the password in a connection string.
func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return logging.RedactSecret(raw)
	}
	return u.Redacted()
}
