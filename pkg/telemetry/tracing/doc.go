// Package tracing provides OpenTelemetry spans for the consume pipeline.
//
// # Spans
//
//   - "HTTP <method> <route>" for each API request (server middleware)
//   - "tally.consume" around the metered pipeline
//   - "provider.invoke" around each outbound provider call
//
// W3C trace context is extracted from incoming requests and injected into
// provider requests, so provider latency shows up inside the caller's trace.
//
// # Usage
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "tally.consume")
//	defer span.End()
//
// A disabled or nil Tracer hands out no-op spans.
//
// # Sampling
//
// Samplers are wrapped in ParentBased so a sampled upstream trace is always
// continued:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    sampler: ratio
//	    sample_ratio: 0.1
package tracing
