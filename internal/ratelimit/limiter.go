// Package ratelimit implements per-endpoint token bucket admission control.
//
// Each bucket refills continuously at calls/period tokens per second up to
// its burst limit. Buckets are built once from configuration and each one
// carries its own lock, so unrelated endpoints never contend.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

// DefaultBucket is the bucket used for keys without their own override.
const DefaultBucket = "default"

// ErrRateLimitExceeded is returned when no token became available within the
// caller's wait budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter manages a fixed set of token buckets.
type Limiter struct {
	buckets map[string]*bucket // read-only after New
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type bucket struct {
	name     string
	limiter  *rate.Limiter
	rate     float64
	capacity int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithMetrics records rate-limit hits and waits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New builds one bucket for the default entry and one per endpoint override.
// A new bucket starts full.
func New(cfg config.RateLimitConfig, opts ...Option) (*Limiter, error) {
	if cfg.Strategy != "" && cfg.Strategy != config.DefaultStrategy {
		return nil, fmt.Errorf("unsupported rate limit strategy %q", cfg.Strategy)
	}

	l := &Limiter{
		buckets: make(map[string]*bucket, len(cfg.Endpoints)+1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "ratelimit")

	b, err := newBucket(DefaultBucket, cfg.Default)
	if err != nil {
		return nil, err
	}
	l.buckets[DefaultBucket] = b

	for name, bc := range cfg.Endpoints {
		if bc.Period == 0 {
			bc.Period = cfg.Default.Period
		}
		if bc.BurstLimit == 0 {
			bc.BurstLimit = bc.Calls
		}
		b, err := newBucket(name, bc)
		if err != nil {
			return nil, err
		}
		l.buckets[name] = b
	}

	return l, nil
}

func newBucket(name string, bc config.BucketConfig) (*bucket, error) {
	if bc.Calls < 1 || bc.Period <= 0 || bc.BurstLimit < 1 {
		return nil, fmt.Errorf("bucket %s: calls, period and burst_limit must be positive", name)
	}
	r := float64(bc.Calls) / bc.Period
	return &bucket{
		name:     name,
		limiter:  rate.NewLimiter(rate.Limit(r), bc.BurstLimit),
		rate:     r,
		capacity: bc.BurstLimit,
	}, nil
}

// bucketFor returns the bucket for key, falling back to the default bucket.
func (l *Limiter) bucketFor(key string) *bucket {
	if b, ok := l.buckets[key]; ok {
		return b
	}
	return l.buckets[DefaultBucket]
}

// TryAcquire takes one token from key's bucket if one is available.
// Denial is not an error; the caller decides whether to wait or fail.
func (l *Limiter) TryAcquire(key string) bool {
	b := l.bucketFor(key)
	if b.limiter.AllowN(l.now(), 1) {
		return true
	}
	l.metrics.IncRateLimitHit(b.name)
	return false
}

// Acquire waits up to maxWait for a token from key's bucket. It returns
// ErrRateLimitExceeded as soon as it is clear no token will arrive in time,
// or the context error if ctx ends first.
func (l *Limiter) Acquire(ctx context.Context, key string, maxWait time.Duration) error {
	b := l.bucketFor(key)
	start := l.now()
	deadline := start.Add(maxWait)

	if b.limiter.AllowN(start, 1) {
		return nil
	}
	l.metrics.IncRateLimitHit(b.name)

	for {
		now := l.now()
		wait := b.untilNextToken(now)
		if now.Add(wait).After(deadline) {
			l.logger.Debug("rate limit wait budget exceeded",
				"bucket", b.name,
				"key", key,
				"max_wait", maxWait)
			return fmt.Errorf("%w: bucket %s", ErrRateLimitExceeded, b.name)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if now := l.now(); b.limiter.AllowN(now, 1) {
			l.metrics.ObserveRateLimitWait(b.name, now.Sub(start))
			return nil
		}
	}
}

// untilNextToken returns how long until the bucket holds one whole token.
func (b *bucket) untilNextToken(now time.Time) time.Duration {
	tokens := b.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	d := time.Duration((1 - tokens) / b.rate * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Tokens reports the tokens currently available in key's bucket.
func (l *Limiter) Tokens(key string) float64 {
	return l.bucketFor(key).limiter.TokensAt(l.now())
}

// BucketStats describes one bucket.
type BucketStats struct {
	Name       string  `json:"name"`
	Tokens     float64 `json:"tokens"`
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refill_rate_per_second"`
}

// Stats returns a snapshot of every bucket, sorted by name.
func (l *Limiter) Stats() []BucketStats {
	now := l.now()
	out := make([]BucketStats, 0, len(l.buckets))
	for _, b := range l.buckets {
		out = append(out, BucketStats{
			Name:       b.name,
			Tokens:     b.limiter.TokensAt(now),
			Capacity:   b.capacity,
			RefillRate: b.rate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
