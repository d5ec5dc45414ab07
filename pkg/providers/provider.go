package providers

import "context"

// Provider is the external completion provider.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
type Provider interface {
	// Invoke performs one completion call.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name used in logs and metrics.
	Name() string
}
