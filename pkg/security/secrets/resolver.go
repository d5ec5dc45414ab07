package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/tally/pkg/config"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver replaces ${secret:name} references with values from its sources.
type Resolver struct {
	sources []Source
	logger  *slog.Logger
}

// NewResolver creates a resolver that tries sources in order.
func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		sources: sources,
		logger:  logger.With("component", "secrets"),
	}
}

// FromConfig builds the resolver described by cfg.
func FromConfig(cfg config.SecretsConfig, logger *slog.Logger) (*Resolver, error) {
	sources := []Source{NewEnvSource(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		files, err := NewFileSource(cfg.Dir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, files)
	}
	return NewResolver(logger, sources...), nil
}

// Lookup returns the first value any source holds for name.
func (r *Resolver) Lookup(ctx context.Context, name string) (string, error) {
	for _, s := range r.sources {
		v, err := s.Lookup(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s source: %w", s.Name(), err)
		}
		r.logger.Debug("Resolved secret", "name", name, "source", s.Name())
		return v, nil
	}
	return "", fmt.Errorf("secret %q: %w", name, ErrNotFound)
}

// Resolve expands every reference in v. Values without references are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(v, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		value, err := r.Lookup(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	return out, errors.Join(errs...)
}

// ResolveConfig expands references in the credential fields of cfg in place.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"provider.api_key", &cfg.Provider.APIKey},
		{"rate_limit.redis.password", &cfg.RateLimit.Redis.Password},
		{"storage.mongo.uri", &cfg.Storage.Mongo.URI},
	}

	var errs []error
	for _, f := range fields {
		if !config.IsSecretRef(*f.value) {
			continue
		}
		v, err := r.Resolve(ctx, *f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.value = v
	}
	return errors.Join(errs...)
}
