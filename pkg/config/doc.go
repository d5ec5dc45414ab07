// Package config provides configuration management for Tally.
//
// This package handles loading, validating and watching configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("tally.yaml")                  // file only
//	cfg, err := config.LoadConfigWithEnvOverrides("tally.yaml")  // file + env
//	cfg, err := config.LoadConfigWithEnvOverrides("")            // defaults + env
//
// The configuration is loaded once by the command and passed to each
// component. There is no package-level instance.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TALLY_SECTION_FIELD:
//
//   - TALLY_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TALLY_QUOTA_FREE_DAILY_LIMIT overrides quota.free_daily_limit
//   - TALLY_STORAGE_MONGO_URI overrides storage.mongo.uri
//   - TALLY_PROVIDER_API_KEY overrides provider.api_key
//
// A variable that is set but cannot be parsed fails the load.
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher re-reads the file after it changes. The serve command applies the
// reloadable settings (quota.free_daily_limit and the rate_limit tiers) and
// ignores the rest until restart.
package config
