package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "TALLY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of DefaultConfig, so omitted fields keep their
// defaults. The result is validated. Environment variables are not applied;
// use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TALLY_SECTION_FIELD (e.g., TALLY_SERVER_LISTEN_ADDRESS) and
// always take precedence over the file.
//
// An empty path skips the file and starts from DefaultConfig.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = DefaultConfig()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies TALLY_* environment variables. A variable that is
// set but cannot be parsed is reported together with every other bad one.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// Server
	e.stringVar("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	e.durationVar("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.durationVar("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.durationVar("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.stringVar("SERVER_IDENTITY_HEADER", &cfg.Server.IdentityHeader)
	e.stringVar("SERVER_PREMIUM_HEADER", &cfg.Server.PremiumHeader)

	// Quota
	e.int64Var("QUOTA_FREE_DAILY_LIMIT", &cfg.Quota.FreeDailyLimit)
	e.durationVar("QUOTA_CACHE_TTL", &cfg.Quota.CacheTTL)
	e.stringVar("QUOTA_TIMEZONE", &cfg.Quota.Timezone)
	e.durationVar("QUOTA_STORE_TIMEOUT", &cfg.Quota.StoreTimeout)

	// Rate limit
	e.boolVar("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	e.stringVar("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	e.intVar("RATE_LIMIT_FREE_LIMIT", &cfg.RateLimit.Free.Limit)
	e.durationVar("RATE_LIMIT_FREE_WINDOW", &cfg.RateLimit.Free.Window)
	e.intVar("RATE_LIMIT_PREMIUM_LIMIT", &cfg.RateLimit.Premium.Limit)
	e.durationVar("RATE_LIMIT_PREMIUM_WINDOW", &cfg.RateLimit.Premium.Window)
	e.boolVar("RATE_LIMIT_FAIL_OPEN", &cfg.RateLimit.FailOpen)
	e.stringVar("RATE_LIMIT_REDIS_ADDR", &cfg.RateLimit.Redis.Addr)
	e.stringVar("RATE_LIMIT_REDIS_PASSWORD", &cfg.RateLimit.Redis.Password)
	e.intVar("RATE_LIMIT_REDIS_DB", &cfg.RateLimit.Redis.DB)

	// Breaker
	e.intVar("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	e.intVar("BREAKER_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)
	e.durationVar("BREAKER_RESET_TIMEOUT", &cfg.Breaker.ResetTimeout)

	// Storage
	e.stringVar("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.stringVar("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	e.stringVar("STORAGE_MONGO_URI", &cfg.Storage.Mongo.URI)
	e.stringVar("STORAGE_MONGO_DATABASE", &cfg.Storage.Mongo.Database)

	// Retention
	e.boolVar("RETENTION_ENABLED", &cfg.Retention.Enabled)
	e.intVar("RETENTION_DAYS", &cfg.Retention.Days)
	e.stringVar("RETENTION_SCHEDULE", &cfg.Retention.Schedule)

	// Provider
	e.stringVar("PROVIDER_TYPE", &cfg.Provider.Type)
	e.stringVar("PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	e.stringVar("PROVIDER_API_KEY", &cfg.Provider.APIKey)
	e.stringVar("PROVIDER_MODEL", &cfg.Provider.Model)
	e.durationVar("PROVIDER_TIMEOUT", &cfg.Provider.Timeout)

	// Reload
	e.boolVar("RELOAD_WATCH", &cfg.Reload.Watch)

	// Secrets
	e.stringVar("SECRETS_DIR", &cfg.Secrets.Dir)

	// Telemetry
	e.stringVar("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	e.stringVar("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	e.boolVar("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	e.boolVar("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	e.stringVar("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	if len(e.errs) > 0 {
		return ValidationError{Errors: e.errs}
	}
	return nil
}

// envReader collects parse failures while reading TALLY_* variables.
type envReader struct {
	errs []FieldError
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func (e *envReader) fail(name, kind, val string) {
	e.errs = append(e.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid %s %q", kind, val),
	})
}

func (e *envReader) stringVar(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, "duration", val)
			return
		}
		*dst = d
	}
}

func (e *envReader) intVar(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, "integer", val)
			return
		}
		*dst = i
	}
}

func (e *envReader) int64Var(name string, dst *int64) {
	if val, ok := e.lookup(name); ok {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			e.fail(name, "integer", val)
			return
		}
		*dst = i
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, "boolean", val)
			return
		}
		*dst = b
	}
}
