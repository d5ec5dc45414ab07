package providers

import (
	"fmt"
	"log/slog"

	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/telemetry/tracing"
)

// Provider types.
const (
	TypeHTTP   = "http"
	TypeStatic = "static"
)

// Deps carries the shared telemetry handles. Every field is optional.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// New creates the provider selected by cfg.Type.
//
// Supported provider types:
//   - "http": OpenAI-compatible chat completions API
//   - "static": deterministic local provider
func New(cfg config.ProviderConfig, deps Deps) (Provider, error) {
	switch cfg.Type {
	case TypeHTTP:
		return NewHTTPProvider(HTTPConfig{
			Name:      TypeHTTP,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxTokens,
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
			Tracer:    deps.Tracer,
		})
	case TypeStatic, "":
		return NewStaticProvider(cfg.Model), nil
	default:
		return nil, &ConfigError{
			Provider: cfg.Type,
			Field:    "type",
			Message:  fmt.Sprintf("unsupported provider type: %q (supported: http, static)", cfg.Type),
		}
	}
}
