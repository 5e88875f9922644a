// Package ops serves the operational HTTP endpoints: health, Prometheus
// metrics and runtime statistics.
package ops
