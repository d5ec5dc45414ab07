package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tally.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"

quota:
  free_daily_limit: 3
  timezone: "Europe/Berlin"
  cache_ttl: 30s

rate_limit:
  backend: redis
  free:
    limit: 5
    window: 30s
  redis:
    addr: "redis:6379"

storage:
  backend: mongo
  mongo:
    uri: "mongodb://localhost:27017"

retention:
  days: 14
  enabled: false

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("expected listen address 0.0.0.0:9090, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Quota.FreeDailyLimit != 3 {
		t.Errorf("expected free daily limit 3, got %d", cfg.Quota.FreeDailyLimit)
	}
	if cfg.Quota.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %v", cfg.Quota.CacheTTL)
	}
	if cfg.RateLimit.Free.Limit != 5 || cfg.RateLimit.Free.Window != 30*time.Second {
		t.Errorf("unexpected free tier: %+v", cfg.RateLimit.Free)
	}
	// Premium tier is not in the file and keeps its default.
	if cfg.RateLimit.Premium.Limit != DefaultPremiumRateLimit {
		t.Errorf("expected default premium limit, got %d", cfg.RateLimit.Premium.Limit)
	}
	// Omitted boolean keeps its on-by-default value.
	if !cfg.RateLimit.Enabled {
		t.Error("expected rate_limit.enabled to default to true")
	}
	if cfg.Retention.Enabled {
		t.Error("expected retention.enabled false from file")
	}
	if cfg.Storage.Mongo.Database != DefaultMongoDatabase {
		t.Errorf("expected mongo database default, got %q", cfg.Storage.Mongo.Database)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "quota: [unclosed",
			wantErr: "failed to parse",
		},
		{
			name:    "invalid timezone",
			content: "quota:\n  timezone: Mars/Olympus\n",
			wantErr: "quota.timezone",
		},
		{
			name:    "mongo without uri",
			content: "storage:\n  backend: mongo\n",
			wantErr: "storage.mongo.uri",
		},
		{
			name:    "bad cron",
			content: "retention:\n  schedule: \"every day\"\n",
			wantErr: "retention.schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "quota:\n  free_daily_limit: 3\n")

	t.Setenv("TALLY_QUOTA_FREE_DAILY_LIMIT", "7")
	t.Setenv("TALLY_SERVER_LISTEN_ADDRESS", "127.0.0.1:7070")
	t.Setenv("TALLY_BREAKER_RESET_TIMEOUT", "45s")
	t.Setenv("TALLY_RATE_LIMIT_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Quota.FreeDailyLimit != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Quota.FreeDailyLimit)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7070" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Breaker.ResetTimeout != 45*time.Second {
		t.Errorf("expected reset timeout 45s, got %v", cfg.Breaker.ResetTimeout)
	}
	if cfg.RateLimit.Enabled {
		t.Error("expected rate limit disabled by env")
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("TALLY_STORAGE_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValue(t *testing.T) {
	t.Setenv("TALLY_QUOTA_FREE_DAILY_LIMIT", "five")
	t.Setenv("TALLY_BREAKER_RESET_TIMEOUT", "soon")

	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(verr.Errors), verr)
	}
}
