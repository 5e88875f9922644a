// Package breaker implements a circuit breaker per downstream dependency.
//
// Closed → Open after FailureThreshold consecutive failures inside Window.
// Open → HalfOpen once OpenDuration has elapsed; exactly one probe call is
// admitted. HalfOpen → Closed on probe success, back to Open on failure.
//
// Allow hands out a Ticket stamped with the breaker's generation, which
// advances on every transition. Outcomes reported with a ticket from an
// earlier generation are ignored, so a slow call admitted while Closed
// cannot decide a HalfOpen probe.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

// ErrCircuitOpen is returned by Allow while the circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards a single downstream.
type Breaker struct {
	name     string
	cfg      config.CircuitBreakerConfig
	now      func() time.Time
	onChange func(name string, from, to State)
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	probeInFlight  bool
	gen            uint64
}

// Ticket identifies an admitted call. Pass it back to Success, Failure or
// Release.
type Ticket struct {
	gen uint64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithOnStateChange registers a hook called on every transition.
// It runs with the breaker lock held and must not call back into it.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithMetrics exports the state as a gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a closed breaker.
func New(name string, cfg config.CircuitBreakerConfig, opts ...Option) *Breaker {
	b := &Breaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
	if b.cfg.FailureThreshold < 1 {
		b.cfg.FailureThreshold = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "breaker", "name", name)
	b.metrics.SetBreakerState(name, int(StateClosed))
	return b
}

// Name returns the downstream name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call may proceed. A nil error while HalfOpen
// means the ticket holds the single probe slot and the caller must report
// the outcome with Success, Failure or Release.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenDuration {
			return Ticket{}, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probeInFlight = true
	case StateHalfOpen:
		if b.probeInFlight {
			return Ticket{}, ErrCircuitOpen
		}
		b.probeInFlight = true
	}
	return Ticket{gen: b.gen}, nil
}

// Success records a successful call.
func (b *Breaker) Success(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.failures = 0
		b.setState(StateClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}
	now := b.now()
	switch b.state {
	case StateClosed:
		if b.failures == 0 || (b.cfg.Window > 0 && now.Sub(b.firstFailureAt) > b.cfg.Window) {
			b.failures = 0
			b.firstFailureAt = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.open(now)
	}
}

// Release gives back a probe slot for a call that never reached the
// downstream, leaving the state unchanged.
func (b *Breaker) Release(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.gen == b.gen && b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeInFlight = false
	b.setState(StateClosed)
}

// State returns the current state without advancing Open → HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.openedAt = now
	b.failures = 0
	b.setState(StateOpen)
}

// setState requires b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.gen++
	b.metrics.SetBreakerState(b.name, int(to))
	b.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Snapshot describes a breaker at a point in time.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
	ProbeInFlight bool      `json:"probe_in_flight"`
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:          b.name,
		State:         b.state.String(),
		Failures:      b.failures,
		OpenedAt:      b.openedAt,
		ProbeInFlight: b.probeInFlight,
	}
}
