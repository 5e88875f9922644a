// Package queue provides a bounded FIFO with drop-oldest eviction.
//
// When full, Enqueue evicts the oldest entry to admit the new one. Drain
// hands entries to a sink strictly in enqueue order and removes each only
// after the sink accepts it, so a failed or interrupted drain redelivers the
// head entry next time.
package queue

import (
	"context"
	"sync"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

// Queue is a thread-safe bounded ring buffer.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []entry[T]
	head     int // read position
	count    int
	capacity int
	nextSeq  uint64
	ready    chan struct{}

	// drainMu serializes consumers so delivery order is preserved.
	drainMu sync.Mutex

	onEvict func(T)
	metrics *metrics.Metrics

	// Stats
	totalEnqueued  int64
	totalDelivered int64
	totalDropped   int64
}

type entry[T any] struct {
	seq  uint64
	item T
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithOnEvict registers a callback for entries dropped to make room.
// It runs outside the queue lock.
func WithOnEvict[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) {
		q.onEvict = fn
	}
}

// WithMetrics exports depth and drop counts.
func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(q *Queue[T]) {
		q.metrics = m
	}
}

// New creates a queue holding at most capacity entries.
func New[T any](capacity int, opts ...Option[T]) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		buf:      make([]entry[T], capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item, evicting the oldest entry if the queue is full.
// Returns true if an entry was evicted.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()

	var (
		evicted  T
		didEvict bool
	)
	if q.count == q.capacity {
		evicted = q.popLocked()
		didEvict = true
		q.totalDropped++
	}

	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = entry[T]{seq: q.nextSeq, item: item}
	q.nextSeq++
	q.count++
	q.totalEnqueued++
	depth := q.count
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	if didEvict {
		q.metrics.IncQueueDropped()
		if q.onEvict != nil {
			q.onEvict(evicted)
		}
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return didEvict
}

// Ready is signalled after each Enqueue. A consumer should Drain when it
// fires; several enqueues may collapse into one signal.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain delivers entries to sink in order until the queue is empty, sink
// fails, or ctx is done. It returns the number of entries delivered.
// An entry that sink rejects stays at the head.
func (q *Queue[T]) Drain(ctx context.Context, sink func(context.Context, T) error) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		q.mu.Lock()
		if q.count == 0 {
			q.mu.Unlock()
			return delivered, nil
		}
		head := q.buf[q.head]
		q.mu.Unlock()

		if err := sink(ctx, head.item); err != nil {
			return delivered, err
		}

		q.mu.Lock()
		// The entry may have been evicted while sink ran.
		if q.count > 0 && q.buf[q.head].seq == head.seq {
			q.popLocked()
			q.totalDelivered++
		}
		depth := q.count
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		delivered++
	}
}

// TakeAll removes and returns every entry in order.
func (q *Queue[T]) TakeAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	out := make([]T, 0, q.count)
	for q.count > 0 {
		out = append(out, q.popLocked())
	}
	q.metrics.SetQueueDepth(0)
	return out
}

// popLocked removes the head entry. Must be called with lock held.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head].item
	q.buf[q.head] = entry[T]{} // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	return item
}

// Len returns the current number of entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:          q.count,
		Capacity:       q.capacity,
		TotalEnqueued:  q.totalEnqueued,
		TotalDelivered: q.totalDelivered,
		TotalDropped:   q.totalDropped,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count          int   `json:"count"`
	Capacity       int   `json:"capacity"`
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalDelivered int64 `json:"total_delivered"`
	TotalDropped   int64 `json:"total_dropped"`
}
