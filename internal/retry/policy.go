// Package retry runs an operation with exponential backoff and jitter.
//
// Only failures on the allow-list are retried: configured HTTP statuses
// (via StatusError) and dropped connections. Everything else, including
// context cancellation, propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
)

// ErrRetryExhausted marks a call that failed on every allowed attempt.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ExhaustedError wraps the last failure after all attempts were used.
// It matches both ErrRetryExhausted and the last error with errors.Is.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	error
	HTTPStatus() int
}

// Policy decides whether and when to retry.
type Policy struct {
	maxAttempts int
	backoff     Backoff
	statuses    map[int]bool
	rnd         func() float64
	sleep       func(context.Context, time.Duration) error
	onRetry     func(attempt int, delay time.Duration, err error)
	logger      *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand sets the jitter source. It must return values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(p *Policy) {
		p.rnd = rnd
	}
}

// WithSleep replaces the wait between attempts. Intended for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithOnRetry registers a hook called before each retry.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// New builds a policy from configuration. Delays are in seconds.
func New(cfg config.RetryConfig, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		backoff: Backoff{
			Initial: config.Seconds(cfg.InitialDelay),
			Max:     config.Seconds(cfg.MaxDelay),
			Factor:  cfg.BackoffFactor,
		},
		statuses: make(map[int]bool, len(cfg.RetryOnStatusCodes)),
		rnd:      rand.Float64,
		sleep:    Sleep,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	for _, code := range cfg.RetryOnStatusCodes {
		p.statuses[code] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// MaxAttempts returns the total number of attempts allowed.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Backoff returns the policy's backoff parameters.
func (p *Policy) Backoff() Backoff {
	return p.backoff
}

// Retryable reports whether err is on the allow-list.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se StatusError
	if errors.As(err, &se) {
		return p.statuses[se.HTTPStatus()]
	}

	return IsConnectionError(err)
}

// IsConnectionError reports whether err means the connection dropped or
// timed out before a response arrived.
func IsConnectionError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. Cancelling ctx aborts any pending backoff.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.backoff.Jittered(attempt, p.rnd)
			p.logger.Debug("retrying operation",
				"attempt", attempt,
				"backoff", delay,
				"error", lastErr,
			)
			if p.onRetry != nil {
				p.onRetry(attempt, delay, lastErr)
			}
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.Retryable(err) {
			return err
		}
	}

	return &ExhaustedError{Attempts: p.maxAttempts, Last: lastErr}
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
