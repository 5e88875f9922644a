// Package api provides the rate-limited, retrying client for the
// third-party REST API.
//
// Every Call runs through the same pipeline:
//   - circuit breaker for the endpoint (fail fast while open)
//   - concurrency cap shared by all endpoints
//   - token bucket for the endpoint, waiting up to api.rate_limit_wait
//   - retry policy around the HTTP round trip
//
// Endpoints are addressed by key ("search", "profile", "health"); the
// configured catalog maps keys to paths under the base URL.
package api
