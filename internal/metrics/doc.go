// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - API call counts, latencies, retries and rate-limit hits per endpoint
//   - Circuit breaker state per downstream
//   - Outbound queue depth and drop counts
//   - Stream connection state, reconnects and malformed frames
//   - Subscriber callback errors and dead-letter writes
//
// All methods are safe to call on a nil *Metrics, so components can run
// without a registry in tests.
package metrics
