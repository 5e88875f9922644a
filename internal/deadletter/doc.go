// Package deadletter records outbound stream messages that were never
// delivered.
//
// The Recorder accepts entries without blocking, buffers them in a bounded
// channel and writes them to PostgreSQL in batches. When the buffer is full
// new entries are dropped and counted.
package deadletter
