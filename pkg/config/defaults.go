package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(1048576)
	DefaultIdentityHeader  = "X-Tally-Identity"
	DefaultPremiumHeader   = "X-Tally-Premium"

	// Quota defaults
	DefaultFreeDailyLimit = int64(5)
	DefaultCacheTTL       = 60 * time.Second
	DefaultTimezone       = "UTC"
	DefaultStoreTimeout   = 2 * time.Second

	// Rate limit defaults
	DefaultRateLimitEnabled  = true
	DefaultRateLimitBackend  = "memory"
	DefaultFreeRateLimit     = 10
	DefaultPremiumRateLimit  = 60
	DefaultRateWindow        = time.Minute
	DefaultRateLimitFailOpen = true
	DefaultJanitorInterval   = time.Minute
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisKeyPrefix    = "tally:rl:"
	DefaultRedisDialTimeout  = 2 * time.Second

	// Breaker defaults
	DefaultBreakerName             = "provider"
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerSuccessThreshold = 2
	DefaultBreakerResetTimeout     = 30 * time.Second
	DefaultBreakerHalfOpenMaxCalls = 1

	// Storage defaults
	DefaultStorageBackend           = "sqlite"
	DefaultSQLitePath               = "data/tally.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultMongoDatabase            = "tally"
	DefaultMongoConnectTimeout      = 10 * time.Second

	// Retention defaults
	DefaultRetentionEnabled  = true
	DefaultRetentionDays     = 30
	DefaultRetentionSchedule = "0 0 * * *"

	// Provider defaults
	DefaultProviderType      = "static"
	DefaultProviderModel     = "gpt-4o-mini"
	DefaultProviderTimeout   = 30 * time.Second
	DefaultProviderMaxTokens = 512

	// Reload defaults
	DefaultReloadDebounce = 250 * time.Millisecond

	// Secrets defaults
	DefaultSecretsEnvPrefix = "TALLY_SECRET_"

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultRedactIdentities = true
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "tally"
	DefaultLivenessPath     = "/health"
	DefaultReadinessPath    = "/ready"

	// Tracing defaults
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultTracingServiceName = "tally"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
)

// DefaultDurationBuckets covers cache hits through slow provider calls.
var DefaultDurationBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// DefaultConfig returns a configuration with every default applied,
// including boolean switches that default to on. LoadConfig decodes the
// YAML file on top of it.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.RateLimit.Enabled = DefaultRateLimitEnabled
	cfg.RateLimit.FailOpen = DefaultRateLimitFailOpen
	cfg.Retention.Enabled = DefaultRetentionEnabled
	cfg.Telemetry.Logging.RedactIdentities = DefaultRedactIdentities
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values. Boolean switches
// are left alone; use DefaultConfig for those.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.IdentityHeader == "" {
		cfg.Server.IdentityHeader = DefaultIdentityHeader
	}
	if cfg.Server.PremiumHeader == "" {
		cfg.Server.PremiumHeader = DefaultPremiumHeader
	}

	// Quota defaults
	if cfg.Quota.FreeDailyLimit == 0 {
		cfg.Quota.FreeDailyLimit = DefaultFreeDailyLimit
	}
	if cfg.Quota.CacheTTL == 0 {
		cfg.Quota.CacheTTL = DefaultCacheTTL
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = DefaultTimezone
	}
	if cfg.Quota.StoreTimeout == 0 {
		cfg.Quota.StoreTimeout = DefaultStoreTimeout
	}

	// Rate limit defaults
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = DefaultRateLimitBackend
	}
	if cfg.RateLimit.Free.Limit == 0 {
		cfg.RateLimit.Free.Limit = DefaultFreeRateLimit
	}
	if cfg.RateLimit.Free.Window == 0 {
		cfg.RateLimit.Free.Window = DefaultRateWindow
	}
	if cfg.RateLimit.Premium.Limit == 0 {
		cfg.RateLimit.Premium.Limit = DefaultPremiumRateLimit
	}
	if cfg.RateLimit.Premium.Window == 0 {
		cfg.RateLimit.Premium.Window = DefaultRateWindow
	}
	if cfg.RateLimit.JanitorInterval == 0 {
		cfg.RateLimit.JanitorInterval = DefaultJanitorInterval
	}
	if cfg.RateLimit.Redis.Addr == "" {
		cfg.RateLimit.Redis.Addr = DefaultRedisAddr
	}
	if cfg.RateLimit.Redis.KeyPrefix == "" {
		cfg.RateLimit.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.RateLimit.Redis.DialTimeout == 0 {
		cfg.RateLimit.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Breaker defaults
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = DefaultBreakerName
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = DefaultBreakerSuccessThreshold
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = DefaultBreakerResetTimeout
	}
	if cfg.Breaker.HalfOpenMaxCalls == 0 {
		cfg.Breaker.HalfOpenMaxCalls = DefaultBreakerHalfOpenMaxCalls
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = DefaultMongoDatabase
	}
	if cfg.Storage.Mongo.ConnectTimeout == 0 {
		cfg.Storage.Mongo.ConnectTimeout = DefaultMongoConnectTimeout
	}

	// Retention defaults
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	// Provider defaults
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = DefaultProviderType
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultProviderModel
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = DefaultProviderTimeout
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = DefaultProviderMaxTokens
	}

	// Reload defaults
	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}

	// Secrets defaults
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
		if cfg.Telemetry.Tracing.SampleRatio == 0 {
			cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
		}
	}
}
