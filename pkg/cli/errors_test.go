package cli

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/usage"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "server.listen_address",
		Message: "missing required field",
	}

	expected := "config error in server.listen_address: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	wrapped := WrapConfigError(errors.New("file not found"))
	if wrapped.Error() != "config error: file not found" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
	if errors.Unwrap(wrapped) == nil {
		t.Error("expected wrapped cause")
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("serve", underlyingErr)

	expected := "command serve failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("CommandError should unwrap to the underlying error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitFailure},
		{"config error", NewConfigError("quota.timezone", "unknown zone"), ExitConfig},
		{"validation", fmt.Errorf("load: %w", config.ValidationError{}), ExitConfig},
		{"quota", NewCommandError("consume", &usage.QuotaExceededError{Limit: 5, Used: 5}), ExitQuota},
		{"unavailable", &usage.ServiceUnavailableError{Dependency: "provider", RetryAfter: time.Second}, ExitUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
