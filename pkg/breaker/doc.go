// Package breaker implements a three-state circuit breaker for calls to a
// slow or unreliable dependency.
//
// # States
//
//	CLOSED ──(FailureThreshold consecutive failures)──▶ OPEN
//	OPEN ──(ResetTimeout elapsed, next call)──▶ HALF_OPEN
//	HALF_OPEN ──(SuccessThreshold consecutive successes)──▶ CLOSED
//	HALF_OPEN ──(any failure)──▶ OPEN
//
// While OPEN, Execute fails immediately with *OpenError and never invokes the
// operation. In HALF_OPEN at most HalfOpenMaxCalls trial calls run at once;
// other callers are refused the same way.
//
// # Concurrency
//
// A single mutex guards the state and is held only while admitting a call
// and while recording its result, never across the call itself. Each state
// change bumps a generation number; a result from a call admitted under an
// older generation is dropped, so a slow failure that started before the
// circuit opened cannot push nextRetryAt out again.
//
// # Usage
//
//	b := breaker.New(breaker.Config{Name: "provider"})
//	resp, err := breaker.Call(ctx, b, func(ctx context.Context) (*Response, error) {
//	    return client.Invoke(ctx, req)
//	})
//	var open *breaker.OpenError
//	if errors.As(err, &open) {
//	    // refused, retry after open.RetryAfter
//	}
package breaker
