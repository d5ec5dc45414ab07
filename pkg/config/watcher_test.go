package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "quota:\n  free_daily_limit: 3\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Watch(ctx, func(cfg *Config) { reloaded <- cfg })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("quota:\n  free_daily_limit: 9\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Quota.FreeDailyLimit != 9 {
			t.Errorf("expected reloaded limit 9, got %d", cfg.Quota.FreeDailyLimit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "quota:\n  free_daily_limit: 3\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx, func(cfg *Config) { reloaded <- cfg })
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("quota:\n  free_daily_limit: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("expected invalid config to be ignored, got reload with limit %d", cfg.Quota.FreeDailyLimit)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestNewWatcher_EmptyPath(t *testing.T) {
	if _, err := NewWatcher("", 0, nil); err == nil {
		t.Error("expected error for empty path")
	}
}
