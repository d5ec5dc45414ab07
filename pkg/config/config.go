package config

import (
	"strings"
	"time"
)

// Config is the root configuration structure for Tally.
// It contains every section needed to build the usage accounting layer and
// the HTTP surface in front of it.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Quota contains the daily quota policy and its read cache.
	Quota QuotaConfig `yaml:"quota"`

	// RateLimit contains the per-identity throughput throttle.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Breaker contains the circuit breaker guarding the completion provider.
	Breaker BreakerConfig `yaml:"breaker"`

	// Storage selects and configures the durable counter store.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures the counter retention sweeper.
	Retention RetentionConfig `yaml:"retention"`

	// Provider configures the external completion provider.
	Provider ProviderConfig `yaml:"provider"`

	// Reload controls hot reloading of the configuration file.
	Reload ReloadConfig `yaml:"reload"`

	// Secrets controls ${secret:name} resolution in credential fields.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains logging, metrics and health check configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// It must exceed the provider timeout.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// IdentityHeader carries the verified identity set by the upstream
	// token verifier.
	// Default: "X-Tally-Identity"
	IdentityHeader string `yaml:"identity_header"`

	// PremiumHeader carries the premium flag ("true"/"false").
	// Default: "X-Tally-Premium"
	PremiumHeader string `yaml:"premium_header"`
}

// QuotaConfig contains the daily quota policy.
type QuotaConfig struct {
	// FreeDailyLimit is the number of consumes a free identity gets per day.
	// Reloadable.
	// Default: 5
	FreeDailyLimit int64 `yaml:"free_daily_limit"`

	// CacheTTL is how long a usage snapshot is served from the read cache.
	// Default: 60s
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Timezone is the IANA zone whose midnight is the day boundary.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// StoreTimeout bounds each durable store call before falling back.
	// Default: 2s
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// Location resolves Timezone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(q.Timezone)
}

// RateLimitConfig contains the throughput throttle configuration.
type RateLimitConfig struct {
	// Enabled turns the throttle on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend selects the window store.
	// Options: "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Free is the tier applied to free identities. Reloadable.
	Free RateTierConfig `yaml:"free"`

	// Premium is the tier applied to premium identities. Reloadable.
	Premium RateTierConfig `yaml:"premium"`

	// FailOpen admits requests when the limiter backend errors.
	// Default: true
	FailOpen bool `yaml:"fail_open"`

	// JanitorInterval is how often idle in-memory windows are evicted.
	// Default: 1m
	JanitorInterval time.Duration `yaml:"janitor_interval"`

	// Redis configures the shared Redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// RateTierConfig is a max-requests-per-window policy.
type RateTierConfig struct {
	// Limit is the maximum number of requests per window.
	Limit int `yaml:"limit"`

	// Window is the sliding window length.
	Window time.Duration `yaml:"window"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Addr is host:port.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is optional.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`

	// KeyPrefix namespaces limiter keys.
	// Default: "tally:rl:"
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds connection setup.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BreakerConfig contains circuit breaker parameters.
type BreakerConfig struct {
	// Name identifies the protected dependency in logs and metrics.
	// Default: "provider"
	Name string `yaml:"name"`

	// FailureThreshold is the consecutive failures that open the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold is the consecutive half-open successes that close it.
	// Default: 2
	SuccessThreshold int `yaml:"success_threshold"`

	// ResetTimeout is the open-state cooldown.
	// Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMaxCalls is the number of trial calls allowed at once in half-open.
	// Default: 1
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// StorageConfig selects the durable counter store.
type StorageConfig struct {
	// Backend selects the store.
	// Options: "sqlite", "mongo", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Mongo configures the MongoDB backend.
	Mongo MongoConfig `yaml:"mongo"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/tally.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// MongoConfig contains MongoDB settings.
type MongoConfig struct {
	// URI is the connection string. Required for the mongo backend.
	URI string `yaml:"uri"`

	// Database is the database name.
	// Default: "tally"
	Database string `yaml:"database"`

	// ConnectTimeout bounds connect and ping.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RetentionConfig configures the retention sweeper.
type RetentionConfig struct {
	// Enabled schedules the sweeper in serve.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Days is the retention window. Counters dated more than Days before
	// today are archived.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a standard 5-field cron expression evaluated in the quota
	// timezone.
	// Default: "0 0 * * *" (local midnight)
	Schedule string `yaml:"schedule"`
}

// ProviderConfig configures the external completion provider.
type ProviderConfig struct {
	// Type selects the provider.
	// Options: "http", "static"
	// Default: "static"
	Type string `yaml:"type"`

	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier.
	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Timeout bounds each provider call.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens caps completion length.
	// Default: 512
	MaxTokens int `yaml:"max_tokens"`
}

// ReloadConfig controls configuration hot reload.
type ReloadConfig struct {
	// Watch enables the file watcher.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a reload fires.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}

// SecretsConfig controls where ${secret:name} references are looked up.
// References are allowed in provider.api_key, rate_limit.redis.password and
// storage.mongo.uri.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name, with hyphens
	// turned into underscores.
	// Default: "TALLY_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret, such as a Kubernetes secret mount.
	// Files must not be readable by group or others. Optional.
	Dir string `yaml:"dir"`
}

// IsSecretRef reports whether v contains a ${secret:name} reference.
func IsSecretRef(v string) bool {
	return strings.Contains(v, "${secret:")
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactIdentities masks identity values that look like email addresses.
	// Default: true
	RedactIdentities bool `yaml:"redact_identities"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "tally"
	Namespace string `yaml:"namespace"`

	// Subsystem is an optional second prefix.
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets are histogram buckets in seconds.
	// Default: 0.005 .. 30
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Default: "tally"
	ServiceName string `yaml:"service_name"`

	// Sampler selects traces to record.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is used by the "ratio" sampler (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`
}
