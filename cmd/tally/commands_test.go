package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/limits/ratelimit"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/storage"
)

// testConfig returns defaults pointed at a SQLite file under t.TempDir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backendSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "db", "tally.db")
	cfg.Telemetry.Logging.Level = "error"
	return cfg
}

// seed writes counters directly to the configured SQLite file.
func seed(t *testing.T, cfg *config.Config, identity string, daysAgo int, features ...usage.FeatureType) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite.Path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := storage.NewSQLiteBackend(cfg.Storage.SQLite.Path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	defer b.Close()

	day := usage.DaysAgo(time.Now(), time.UTC, daysAgo)
	for _, f := range features {
		if _, err := b.Increment(context.Background(), storage.IncrementRequest{
			Identity: identity,
			Day:      day,
			Feature:  f,
		}); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}
}

func TestRunUsage(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg, "alice", 0, usage.FeatureSummary, usage.FeatureQuestion)

	var buf bytes.Buffer
	if err := runUsage(context.Background(), cfg, "alice", false, "json", &buf); err != nil {
		t.Fatalf("runUsage() error = %v", err)
	}

	var snap usage.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if snap.Used != 2 || snap.Limit != config.DefaultFreeDailyLimit || snap.Remaining != config.DefaultFreeDailyLimit-2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	buf.Reset()
	if err := runUsage(context.Background(), cfg, "alice", true, "text", &buf); err != nil {
		t.Fatalf("runUsage() error = %v", err)
	}
	if !strings.Contains(buf.String(), "unlimited") {
		t.Errorf("expected premium text output to show unlimited, got:\n%s", buf.String())
	}

	if err := runUsage(context.Background(), cfg, "alice", false, "yaml", &buf); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestRunStats(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg, "alice", 1, usage.FeatureSummary)
	seed(t, cfg, "alice", 0, usage.FeatureSummary, usage.FeatureSummary, usage.FeatureQuestion)

	var buf bytes.Buffer
	if err := runStats(context.Background(), cfg, "alice", 7, "csv", &buf); err != nil {
		t.Fatalf("runStats() error = %v", err)
	}

	yesterday := usage.DaysAgo(time.Now(), time.UTC, 1)
	today := usage.Day(time.Now(), time.UTC)
	want := "DAY,SUMMARY,QUESTION,TOTAL\n" +
		yesterday + ",1,0,1\n" +
		today + ",2,1,3\n"
	if buf.String() != want {
		t.Errorf("csv output = %q, want %q", buf.String(), want)
	}

	if err := runStats(context.Background(), cfg, "alice", 0, "text", &buf); err == nil {
		t.Error("expected error for zero days")
	}
}

func TestRunSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Days = 30
	seed(t, cfg, "alice", 40, usage.FeatureSummary)
	seed(t, cfg, "alice", 2, usage.FeatureSummary)

	var buf bytes.Buffer
	if err := runSweep(context.Background(), cfg, true, &buf); err != nil {
		t.Fatalf("dry run error = %v", err)
	}
	if !strings.Contains(buf.String(), "Eligible counters: 1") {
		t.Errorf("unexpected dry run output:\n%s", buf.String())
	}

	buf.Reset()
	if err := runSweep(context.Background(), cfg, false, &buf); err != nil {
		t.Fatalf("runSweep() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Archived: 1") {
		t.Errorf("unexpected sweep output:\n%s", buf.String())
	}

	buf.Reset()
	if err := runSweep(context.Background(), cfg, false, &buf); err != nil {
		t.Fatalf("second runSweep() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Archived: 0") {
		t.Errorf("expected second sweep to archive nothing:\n%s", buf.String())
	}
}

func TestComponents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backendMemory
	cfg.Telemetry.Logging.Level = "error"

	ctx := context.Background()
	c, err := openStore(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer c.Close()

	if err := c.withRuntime(ctx); err != nil {
		t.Fatalf("withRuntime() error = %v", err)
	}
	if c.accountant == nil || c.limiter == nil || c.checker == nil {
		t.Fatal("expected runtime components to be built")
	}
	if c.provider.Name() != "static" {
		t.Errorf("expected static provider, got %s", c.provider.Name())
	}
	if got := c.checker.CheckCount(); got != 2 {
		t.Errorf("expected 2 readiness checks, got %d", got)
	}
	if status := c.checker.CheckReadiness(ctx); !status.Serving() {
		t.Errorf("expected serving readiness, got %+v", status)
	}

	next := config.DefaultConfig()
	next.Quota.FreeDailyLimit = 10
	next.RateLimit.Free.Limit = 3
	c.applyReload(next)
	if c.quota.DailyLimit() != 10 {
		t.Errorf("expected reloaded daily limit 10, got %d", c.quota.DailyLimit())
	}
	if tiers := c.limiter.(*ratelimit.MemoryLimiter).Tiers(); tiers.Free.Limit != 3 {
		t.Errorf("expected reloaded free tier limit 3, got %d", tiers.Free.Limit)
	}
}

func TestApplyReload_LogsLimitChangeOnce(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backendMemory

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := context.Background()
	c, err := openStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer c.Close()
	if err := c.withRuntime(ctx); err != nil {
		t.Fatalf("withRuntime() error = %v", err)
	}

	next := config.DefaultConfig()
	next.Quota.FreeDailyLimit = cfg.Quota.FreeDailyLimit + 5
	c.applyReload(next)
	c.applyReload(next)

	if n := strings.Count(buf.String(), "Daily limit changed"); n != 1 {
		t.Errorf("expected one limit change log line, got %d:\n%s", n, buf.String())
	}
}

func TestOpenBackend_Unsupported(t *testing.T) {
	if _, err := openBackend(context.Background(), config.StorageConfig{Backend: "cassandra"}); err == nil {
		t.Error("expected error for unsupported backend")
	}
	if _, _, err := openLimiter(context.Background(), config.RateLimitConfig{Backend: "memcached"}, discardLogger(), nil); err == nil {
		t.Error("expected error for unsupported limiter backend")
	}
}

func TestWriteConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "sk-live-1234567890"
	cfg.Storage.Mongo.URI = "mongodb://tally:hunter2@db:27017"

	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg); err != nil {
		t.Fatalf("writeConfig() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "1234567890") || strings.Contains(out, "hunter2") {
		t.Errorf("secrets leaked into config output:\n%s", out)
	}
	if !strings.Contains(out, "free_daily_limit: 5") {
		t.Errorf("expected quota section in output:\n%s", out)
	}
	if cfg.Provider.APIKey != "sk-live-1234567890" {
		t.Error("writeConfig must not modify the input")
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	if err := os.WriteFile(path, []byte("quota:\n  free_daily_limit: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "validate", "--config", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config validate error = %v", err)
	}
	if !strings.Contains(buf.String(), "Configuration valid") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}
