// Package retry provides exponential backoff retry logic for transient failures.
//
// Adapters and connectors never retry on their own. Retry is a policy chosen by the
// code that drives them: the sampler service retries adapter start, and the NATS
// client retries its initial connect.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (start-up)
//
// # Usage
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return conn.Start(ctx)
//	})
//
// Use Retryable to stop on errors that will never succeed, or wrap the error
// with NonRetryable at the call site:
//
//	cfg := retry.DefaultConfig()
//	cfg.Retryable = errors.IsTransient
package retry
