package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateBreaker(&cfg.Breaker)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateProvider(&cfg.Provider, &cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout cannot be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout cannot be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes cannot be negative"})
	}
	if cfg.IdentityHeader == "" {
		errs = append(errs, FieldError{Field: "server.identity_header", Message: "identity header is required"})
	}

	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if cfg.FreeDailyLimit < 1 {
		errs = append(errs, FieldError{Field: "quota.free_daily_limit", Message: "free daily limit must be at least 1"})
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "quota.cache_ttl", Message: "cache ttl cannot be negative"})
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, FieldError{
			Field:   "quota.timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		})
	}
	if cfg.StoreTimeout <= 0 {
		errs = append(errs, FieldError{Field: "quota.store_timeout", Message: "store timeout must be positive"})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, FieldError{
			Field:   "rate_limit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.Backend),
		})
	}

	errs = append(errs, validateTier("rate_limit.free", cfg.Free)...)
	errs = append(errs, validateTier("rate_limit.premium", cfg.Premium)...)

	if cfg.Enabled && cfg.Backend == "redis" && cfg.Redis.Addr == "" {
		errs = append(errs, FieldError{Field: "rate_limit.redis.addr", Message: "redis address is required for the redis backend"})
	}

	return errs
}

func validateTier(prefix string, tier RateTierConfig) []FieldError {
	var errs []FieldError
	if tier.Limit < 1 {
		errs = append(errs, FieldError{Field: prefix + ".limit", Message: "limit must be at least 1"})
	}
	if tier.Window < time.Second {
		errs = append(errs, FieldError{Field: prefix + ".window", Message: "window must be at least 1s"})
	}
	return errs
}

func validateBreaker(cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.failure_threshold", Message: "failure threshold must be at least 1"})
	}
	if cfg.SuccessThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.success_threshold", Message: "success threshold must be at least 1"})
	}
	if cfg.ResetTimeout <= 0 {
		errs = append(errs, FieldError{Field: "breaker.reset_timeout", Message: "reset timeout must be positive"})
	}
	if cfg.HalfOpenMaxCalls < 1 {
		errs = append(errs, FieldError{Field: "breaker.half_open_max_calls", Message: "half-open max calls must be at least 1"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "sqlite path is required"})
		}
	case "mongo":
		if cfg.Mongo.URI == "" {
			errs = append(errs, FieldError{Field: "storage.mongo.uri", Message: "mongo uri is required for the mongo backend"})
		} else if !IsSecretRef(cfg.Mongo.URI) {
			if u, err := url.Parse(cfg.Mongo.URI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
				errs = append(errs, FieldError{Field: "storage.mongo.uri", Message: "mongo uri must use the mongodb:// or mongodb+srv:// scheme"})
			}
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite', 'mongo', or 'memory'", cfg.Backend),
		})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.Days < 1 {
		errs = append(errs, FieldError{Field: "retention.days", Message: "retention days must be at least 1"})
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "retention.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		})
	}

	return errs
}

func validateProvider(cfg *ProviderConfig, server *ServerConfig) []FieldError {
	var errs []FieldError

	switch cfg.Type {
	case "static":
	case "http":
		if cfg.BaseURL == "" {
			errs = append(errs, FieldError{Field: "provider.base_url", Message: "base url is required for the http provider"})
		} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: "provider.base_url", Message: fmt.Sprintf("invalid base url %q", cfg.BaseURL)})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "provider.type",
			Message: fmt.Sprintf("invalid provider type %q: must be 'http' or 'static'", cfg.Type),
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "provider.timeout", Message: "timeout must be positive"})
	} else if server.WriteTimeout > 0 && cfg.Timeout >= server.WriteTimeout {
		errs = append(errs, FieldError{Field: "provider.timeout", Message: "timeout must be shorter than server.write_timeout"})
	}
	if cfg.MaxTokens < 1 {
		errs = append(errs, FieldError{Field: "provider.max_tokens", Message: "max tokens must be at least 1"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with '/'"})
	}
	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "liveness path must start with '/'"})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "readiness path must start with '/'"})
	}

	switch cfg.Tracing.Sampler {
	case "always", "never":
	case "ratio":
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: fmt.Sprintf("sample ratio must be between 0.0 and 1.0, got %g", cfg.Tracing.SampleRatio),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}

	return errs
}
