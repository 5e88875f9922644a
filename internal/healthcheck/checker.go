package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/api"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
)

// Caller issues API calls. *api.Client implements it.
type Caller interface {
	Call(ctx context.Context, endpointKey string, req api.Request) (*api.Response, error)
}

// Status is the result of the most recent probe.
type Status struct {
	Healthy             bool          `json:"healthy"`
	CheckedAt           time.Time     `json:"checked_at"`
	Latency             time.Duration `json:"latency"`
	Error               string        `json:"error,omitempty"`
	ErrorKind           string        `json:"error_kind,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics exports the health gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// Checker probes the API health endpoint on an interval.
type Checker struct {
	cfg     config.HealthConfig
	caller  Caller
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	status Status
	probed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Checker.
func New(cfg config.HealthConfig, caller Caller, opts ...Option) *Checker {
	c := &Checker{
		cfg:    cfg,
		caller: caller,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "healthcheck")
	return c
}

// Start begins the probe loop. The first probe runs immediately.
func (c *Checker) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("health checker started",
		"interval", c.cfg.Interval,
		"endpoint", c.cfg.Endpoint,
	)
	return nil
}

// Stop waits for the probe loop to exit.
func (c *Checker) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("health checker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest result and whether any probe has completed.
func (c *Checker) Status() (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.probed
}

// Check runs one probe and records the result.
func (c *Checker) Check(ctx context.Context) Status {
	start := c.now()
	_, err := c.caller.Call(ctx, c.cfg.Endpoint, api.Request{Method: http.MethodGet})

	c.mu.Lock()
	st := Status{
		Healthy:   err == nil,
		CheckedAt: start,
		Latency:   c.now().Sub(start),
	}
	if err != nil {
		st.Error = err.Error()
		st.ErrorKind = api.ErrorKind(err)
		st.ConsecutiveFailures = c.status.ConsecutiveFailures + 1
	}
	wasHealthy, hadProbe := c.status.Healthy, c.probed
	c.status = st
	c.probed = true
	c.mu.Unlock()

	c.metrics.SetAPIHealthy(st.Healthy)

	switch {
	case err != nil && (wasHealthy || !hadProbe):
		c.logger.Warn("api unhealthy", "error", err, "kind", st.ErrorKind)
	case err == nil && !wasHealthy && hadProbe:
		c.logger.Info("api healthy again", "latency", st.Latency)
	default:
		c.logger.Debug("health probe", "healthy", st.Healthy, "latency", st.Latency)
	}
	return st
}

func (c *Checker) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
