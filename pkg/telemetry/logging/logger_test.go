package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid JSON config", config: Config{Level: "info", Format: "json"}},
		{name: "valid text config", config: Config{Level: "debug", Format: "text"}},
		{name: "defaults", config: Config{}},
		{name: "upper case", config: Config{Level: "WARN", Format: "JSON"}},
		{name: "invalid log level", config: Config{Level: "invalid"}, wantErr: true},
		{name: "invalid format", config: Config{Format: "console"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("expected logger, got nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "warn", Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn to be written, got %q", buf.String())
	}
}

func TestContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithIdentity(WithRequestID(context.Background(), "req-123"), "user-1")
	logger.With("component", "test").InfoContext(ctx, "hello")

	entry := decode(t, buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", entry["request_id"])
	}
	if entry["identity"] != "user-1" {
		t.Errorf("expected identity user-1, got %v", entry["identity"])
	}
	if entry["component"] != "test" {
		t.Errorf("expected component test, got %v", entry["component"])
	}
}

func TestRedaction(t *testing.T) {
	tests := []struct {
		name       string
		identities bool
		key        string
		value      string
		want       string
	}{
		{"api key", false, "api_key", "sk-abcdef123456", "sk-a***"},
		{"short secret", false, "token", "abc", "***"},
		{"authorization", false, "Authorization", "Bearer abcdefghijk", "Bear***"},
		{"bearer in message field", false, "detail", "sent Bearer abc.def", "sent Bearer ***"},
		{"email identity redacted", true, "identity", "alice@example.com", "a***@example.com"},
		{"email identity kept", false, "identity", "alice@example.com", "alice@example.com"},
		{"opaque identity", true, "identity", "user-42", "user-42"},
		{"plain field", true, "feature", "summary", "summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger, err := New(Config{RedactIdentities: tt.identities, Writer: buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			logger.Info("event", tt.key, tt.value)

			entry := decode(t, buf)
			if got := entry[tt.key]; got != tt.want {
				t.Errorf("%s = %v, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedaction_ContextIdentity(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{RedactIdentities: true, Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.InfoContext(WithIdentity(context.Background(), "bob@example.org"), "event")

	entry := decode(t, buf)
	if entry["identity"] != "b***@example.org" {
		t.Errorf("expected redacted context identity, got %v", entry["identity"])
	}
}

func TestTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Format: "text", Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", "count", 3)

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "count=3") {
		t.Errorf("unexpected text output %q", out)
	}
}
