// Package providers wraps the external completion provider behind a single
// blocking call.
//
// # Overview
//
// A Provider turns a page (and, for questions, a question about it) into
// generated text:
//
//	resp, err := provider.Invoke(ctx, &providers.Request{
//	    Feature: usage.FeatureSummary,
//	    Title:   "Example Domain",
//	    Content: pageText,
//	})
//
// Callers do not invoke a Provider directly. The usage accountant calls it
// through a circuit breaker so a failing provider is not hammered.
//
// # Implementations
//
//   - HTTPProvider: OpenAI-compatible chat completions API with bearer auth.
//     Each call makes exactly one attempt; retry policy belongs to the
//     caller and the breaker.
//   - StaticProvider: deterministic local output for development and tests.
//
// New builds the configured provider from config.ProviderConfig.
//
// # Errors
//
// HTTP failures are mapped to typed errors:
//
//   - AuthError: 401/403
//   - RateLimitError: 429, with the provider's Retry-After
//   - TimeoutError: the call exceeded its timeout
//   - ParseError: malformed response body
//   - ProviderError: any other non-2xx status or transport failure
//   - ValidationError: the request was rejected before sending
package providers
