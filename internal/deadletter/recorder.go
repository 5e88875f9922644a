package deadletter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

// Defaults for batching.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	writeTimeout         = 10 * time.Second
)

// Outcomes reported to metrics.
const (
	OutcomeWritten = "written"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMetrics exports recorder outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithBatching overrides batch size and flush interval.
func WithBatching(size int, interval time.Duration) Option {
	return func(r *Recorder) {
		if size > 0 {
			r.batchSize = size
		}
		if interval > 0 {
			r.flushInterval = interval
		}
	}
}

// WithClock sets the time source for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Stats contains recorder statistics.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Written  int64 `json:"written"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Flushes  int64 `json:"flushes"`
}

// Recorder writes entries asynchronously in batches.
type Recorder struct {
	store         Inserter
	input         chan Entry
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics

	batch []Entry // owned by run

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recorded atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	flushes  atomic.Int64
}

// NewRecorder creates a recorder buffering up to bufferSize entries.
func NewRecorder(store Inserter, bufferSize int, opts ...Option) *Recorder {
	if bufferSize < 1 {
		bufferSize = 1
	}
	r := &Recorder{
		store:         store,
		input:         make(chan Entry, bufferSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "deadletter")
	r.batch = make([]Entry, 0, r.batchSize)
	return r
}

// Start begins writing buffered entries.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("dead-letter recorder started",
		"batch_size", r.batchSize,
		"flush_interval", r.flushInterval,
	)
	return nil
}

// Stop flushes what is buffered and waits for the writer to exit.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("dead-letter recorder stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("dead-letter recorder stop timed out")
		return ctx.Err()
	}
}

// Record queues e without blocking. It returns false if the buffer is full.
func (r *Recorder) Record(e Entry) bool {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = r.now()
	}
	select {
	case r.input <- e:
		r.recorded.Add(1)
		return true
	default:
		r.dropped.Add(1)
		r.metrics.IncDeadLetter(OutcomeDropped)
		r.logger.Warn("dead-letter buffer full, dropping entry",
			"id", e.ID,
			"event", e.EventType,
			"reason", e.Reason,
		)
		return false
	}
}

// Stats returns recorder statistics.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Written:  r.written.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
		Flushes:  r.flushes.Load(),
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drainInput()
			r.flush()
			return
		case e := <-r.input:
			r.batch = append(r.batch, e)
			if len(r.batch) >= r.batchSize {
				r.flush()
			}
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) drainInput() {
	for {
		select {
		case e := <-r.input:
			r.batch = append(r.batch, e)
		default:
			return
		}
	}
}

// flush writes the current batch. A failed batch is counted and dropped.
func (r *Recorder) flush() {
	if len(r.batch) == 0 {
		return
	}
	batch := r.batch
	r.batch = make([]Entry, 0, r.batchSize)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	start := time.Now()
	inserted, err := r.store.Insert(ctx, batch)
	r.flushes.Add(1)
	if err != nil {
		r.failed.Add(int64(len(batch)))
		r.metrics.AddDeadLetters(OutcomeFailed, len(batch))
		r.logger.Error("dead-letter insert failed", "error", err, "count", len(batch))
		return
	}

	r.written.Add(int64(inserted))
	r.metrics.AddDeadLetters(OutcomeWritten, inserted)
	r.logger.Debug("flushed dead letters",
		"count", len(batch),
		"inserted", inserted,
		"duration", time.Since(start),
	)
}
