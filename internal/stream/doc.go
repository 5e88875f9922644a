// Package stream implements the persistent event-stream connection.
//
// The Manager:
//   - Owns one WebSocket connection per process
//   - Reconnects with exponential backoff and jitter
//   - Detects silently dead connections with a heartbeat
//   - Routes inbound frames to an events.Router in wire order
//   - Queues outbound messages and flushes them in enqueue order
//
// All connection state is mutated on a single control loop. Public methods
// talk to it through a command channel.
package stream
