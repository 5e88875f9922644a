// Package healthcheck periodically probes the third-party API through the
// resilient client and records the result.
package healthcheck
