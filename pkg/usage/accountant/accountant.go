package accountant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tally/pkg/breaker"
	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/limits/ratelimit"
	"mercator-hq/tally/pkg/providers"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/telemetry/tracing"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/quota"
)

// Consume outcomes, used as the metrics outcome label.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalid       = "invalid"
	OutcomeRateLimited   = "rate_limited"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeUnavailable   = "unavailable"
	OutcomeProviderError = "provider_error"
	OutcomeError         = "error"
)

// Config wires an Accountant.
type Config struct {
	// Quota is required.
	Quota *quota.Store

	// Breaker guards Provider. Required.
	Breaker *breaker.Breaker

	// Provider is required.
	Provider providers.Provider

	// Limiter is optional; nil disables throughput limiting.
	Limiter ratelimit.Limiter

	// FailClosed refuses requests when the limiter backend errors.
	// Default: false (fail open)
	FailClosed bool

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// Accountant is the usage accounting entry point. It is safe for concurrent
// use.
type Accountant struct {
	quota      *quota.Store
	breaker    *breaker.Breaker
	provider   providers.Provider
	limiter    ratelimit.Limiter
	failClosed bool
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
}

// New creates an Accountant.
func New(cfg Config) (*Accountant, error) {
	if cfg.Quota == nil {
		return nil, errors.New("accountant: quota store is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("accountant: breaker is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("accountant: provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		quota:      cfg.Quota,
		breaker:    cfg.Breaker,
		provider:   cfg.Provider,
		limiter:    cfg.Limiter,
		failClosed: cfg.FailClosed,
		clock:      clock.Or(cfg.Clock),
		logger:     logger.With("component", "accountant"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}, nil
}

// ConsumeRequest is one metered call.
type ConsumeRequest struct {
	Identity  string
	Feature   usage.FeatureType
	IsPremium bool

	// Request is the provider call. Its Feature defaults to Feature.
	Request *providers.Request

	// Detail, when set, is recorded with the usage. Missing title, source,
	// model and size are filled from the request and response.
	Detail *usage.Detail
}

// ConsumeResult is a successful consumption.
type ConsumeResult struct {
	Usage    usage.Snapshot
	Response *providers.Response
}

// Consume runs the metered pipeline for req.
func (a *Accountant) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	start := a.clock.Now()
	ctx, span := a.tracer.Start(ctx, "tally.consume",
		trace.WithAttributes(tracing.ConsumeAttributes(req.Identity, string(req.Feature), req.IsPremium)...))
	defer span.End()

	res, err := a.consume(ctx, &req)

	outcome := classify(err)
	a.metrics.RecordConsume(string(req.Feature), outcome, a.clock.Now().Sub(start))
	span.SetAttributes(tracing.AttrOutcome.String(outcome))
	if err != nil {
		tracing.SetError(span, err, outcome)
	} else {
		tracing.SetQuotaAttributes(span, res.Usage.Used, string(res.Usage.Source))
		tracing.SetStatus(span, nil)
	}
	switch outcome {
	case OutcomeSuccess:
		a.logger.Debug("Usage recorded",
			"identity", req.Identity,
			"feature", string(req.Feature),
			"used", res.Usage.Used,
			"source", string(res.Usage.Source),
		)
	case OutcomeProviderError, OutcomeError:
		a.logger.Warn("Consume failed",
			"identity", req.Identity,
			"feature", string(req.Feature),
			"outcome", outcome,
			"error", err,
		)
	default:
		a.logger.Debug("Consume refused",
			"identity", req.Identity,
			"feature", string(req.Feature),
			"outcome", outcome,
			"error", err,
		)
	}
	return res, err
}

func (a *Accountant) consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	if err := a.validate(req); err != nil {
		return nil, err
	}

	if err := a.allow(ctx, req.Identity, req.IsPremium); err != nil {
		return nil, err
	}

	reservation, _, err := a.quota.Reserve(ctx, req.Identity, req.IsPremium)
	if err != nil {
		return nil, err
	}
	defer reservation.Release()

	resp, err := breaker.Call(ctx, a.breaker, func(ctx context.Context) (*providers.Response, error) {
		return a.provider.Invoke(ctx, req.Request)
	})
	if err != nil {
		var open *breaker.OpenError
		if errors.As(err, &open) {
			return nil, &usage.ServiceUnavailableError{
				Dependency: a.provider.Name(),
				RetryAfter: open.RetryAfter,
				Cause:      err,
			}
		}
		return nil, fmt.Errorf("provider call failed: %w", err)
	}

	snap, err := reservation.Commit(ctx, req.Feature, a.detail(req, resp))
	if err != nil {
		return nil, err
	}
	return &ConsumeResult{Usage: snap, Response: resp}, nil
}

func (a *Accountant) validate(req *ConsumeRequest) error {
	if err := usage.ValidateIdentity(req.Identity); err != nil {
		return err
	}
	if err := req.Feature.Validate(); err != nil {
		return err
	}
	if req.Request == nil {
		return &usage.ValidationError{Field: "request", Message: "provider request is required"}
	}

	pr := *req.Request
	if pr.Feature == "" {
		pr.Feature = req.Feature
	}
	if pr.Feature != req.Feature {
		return &usage.ValidationError{Field: "feature", Message: "request feature does not match consumed feature"}
	}
	if err := pr.Validate(); err != nil {
		var ve *providers.ValidationError
		if errors.As(err, &ve) {
			return &usage.ValidationError{Field: ve.Field, Message: ve.Message}
		}
		return err
	}
	req.Request = &pr
	return nil
}

// allow applies the throughput limit. Limiter errors fail open unless
// configured otherwise.
func (a *Accountant) allow(ctx context.Context, identity string, premium bool) error {
	if a.limiter == nil {
		return nil
	}

	d, err := a.limiter.Allow(ctx, identity, premium)
	if err != nil {
		if a.failClosed {
			return &usage.ServiceUnavailableError{Dependency: "rate limiter", RetryAfter: time.Second, Cause: err}
		}
		a.logger.Warn("Rate limiter unavailable, admitting request",
			"identity", identity,
			"error", err,
		)
		return nil
	}
	if !d.Allowed {
		return &usage.RateLimitedError{
			Identity:   identity,
			Limit:      d.Limit,
			Window:     d.Window,
			RetryAfter: d.RetryAfter,
		}
	}
	return nil
}

func (a *Accountant) detail(req *ConsumeRequest, resp *providers.Response) *usage.Detail {
	if req.Detail == nil {
		return nil
	}
	d := *req.Detail
	if d.Title == "" {
		d.Title = req.Request.Title
	}
	if d.SourceRef == "" {
		d.SourceRef = req.Request.SourceRef
	}
	if d.Model == "" {
		d.Model = resp.Model
	}
	if d.Size == 0 {
		d.Size = resp.Size()
	}
	return &d
}

func classify(err error) string {
	var pe *providers.ProviderError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, usage.ErrValidation):
		return OutcomeInvalid
	case errors.Is(err, usage.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, usage.ErrQuotaExceeded):
		return OutcomeQuotaExceeded
	case errors.Is(err, usage.ErrServiceUnavailable):
		return OutcomeUnavailable
	case errors.As(err, &pe), isProviderError(err):
		return OutcomeProviderError
	default:
		return OutcomeError
	}
}

func isProviderError(err error) bool {
	var (
		auth    *providers.AuthError
		limited *providers.RateLimitError
		timeout *providers.TimeoutError
		parse   *providers.ParseError
	)
	return errors.As(err, &auth) || errors.As(err, &limited) ||
		errors.As(err, &timeout) || errors.As(err, &parse)
}

// GetUsage returns today's usage for identity.
func (a *Accountant) GetUsage(ctx context.Context, identity string, isPremium bool) (usage.Snapshot, error) {
	return a.quota.GetUsage(ctx, identity, isPremium)
}

// CheckLimit reports whether identity may consume one more unit.
func (a *Accountant) CheckLimit(ctx context.Context, identity string, isPremium bool) (bool, error) {
	return a.quota.CheckLimit(ctx, identity, isPremium)
}

// Statistics aggregates usage over the last days days.
func (a *Accountant) Statistics(ctx context.Context, identity string, days int) (usage.Statistics, error) {
	return a.quota.Statistics(ctx, identity, days)
}

// IsAvailable reports whether the durable store is reachable.
func (a *Accountant) IsAvailable() bool {
	return a.quota.IsAvailable()
}

// BreakerState returns the provider breaker snapshot.
func (a *Accountant) BreakerState() breaker.Snapshot {
	return a.breaker.State()
}
