package cli

import (
	"errors"
	"fmt"

	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/usage"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitQuota       = 3
	ExitUnavailable = 4
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// WrapConfigError reports a configuration load or validation failure.
func WrapConfigError(err error) *ConfigError {
	return &ConfigError{Message: err.Error(), Err: err}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr      *ConfigError
		invalid     config.ValidationError
		quota       *usage.QuotaExceededError
		unavailable *usage.ServiceUnavailableError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &invalid):
		return ExitConfig
	case errors.As(err, &quota):
		return ExitQuota
	case errors.As(err, &unavailable):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
