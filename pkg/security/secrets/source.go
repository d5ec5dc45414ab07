package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a Source that does not hold the secret.
var ErrNotFound = errors.New("secret not found")

// Source looks up secret values by name.
type Source interface {
	Lookup(ctx context.Context, name string) (string, error)

	// Name identifies the source in logs and errors.
	Name() string
}

// EnvSource reads secrets from environment variables.
//
// The secret "provider-api-key" with prefix "TALLY_SECRET_" is read from
// TALLY_SECRET_PROVIDER_API_KEY.
type EnvSource struct {
	prefix string
}

// NewEnvSource creates an environment source.
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix}
}

// Lookup implements Source.
func (s *EnvSource) Lookup(ctx context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(s.envVar(name))
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Name implements Source.
func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) envVar(name string) string {
	return s.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FileSource reads secrets from files named after the secret in a directory.
// Trailing newlines are trimmed.
type FileSource struct {
	dir string
}

// NewFileSource creates a file source over dir, which must exist.
func NewFileSource(dir string) (*FileSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets dir is not a directory: %s", dir)
	}
	return &FileSource{dir: abs}, nil
}

// Lookup implements Source. Files readable by group or others are refused.
func (s *FileSource) Lookup(ctx context.Context, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	path := filepath.Join(s.dir, name)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("secret %q is a directory", name)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("secret file %q has insecure permissions %o (want 0600 or 0400)", name, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }
