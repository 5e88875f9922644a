package api

import (
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/breaker"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/ratelimit"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/retry"
)

// Client provides access to the third-party REST API.
type Client struct {
	baseURL       string
	accessToken   string
	endpoints     map[string]string
	totalTimeout  time.Duration
	rateLimitWait time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
	metrics       *metrics.Metrics

	limiter  *ratelimit.Limiter
	retry    *retry.Policy
	breakers *breaker.Set
	sem      *semaphore.Weighted

	retryOpts   []retry.Option
	limiterOpts []ratelimit.Option
	breakerOpts []breaker.Option

	inFlight atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client from the api, rate_limit, retry and
// circuit_breaker sections of cfg. cfg is copied; later changes to it have
// no effect.
func NewClient(cfg config.Config, opts ...ClientOption) (*Client, error) {
	connectTimeout := config.Seconds(cfg.API.Timeout.Connect)
	readTimeout := config.Seconds(cfg.API.Timeout.Read)

	endpoints := make(map[string]string, len(cfg.API.Endpoints))
	for k, v := range cfg.API.Endpoints {
		endpoints[k] = v
	}

	maxConcurrent := cfg.API.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	c := &Client{
		baseURL:       cfg.API.BaseURL,
		accessToken:   cfg.API.AccessToken,
		endpoints:     endpoints,
		totalTimeout:  config.Seconds(cfg.API.Timeout.Total),
		rateLimitWait: config.Seconds(cfg.API.RateLimitWait),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   connectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: readTimeout,
				MaxIdleConnsPerHost:   maxConcurrent,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: slog.Default(),
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")

	limiter, err := ratelimit.New(cfg.RateLimit, append([]ratelimit.Option{
		ratelimit.WithLogger(c.logger),
		ratelimit.WithMetrics(c.metrics),
	}, c.limiterOpts...)...)
	if err != nil {
		return nil, err
	}
	c.limiter = limiter

	c.retry = retry.New(cfg.Retry, append([]retry.Option{
		retry.WithLogger(c.logger),
	}, c.retryOpts...)...)

	c.breakers = breaker.NewSet(cfg.CircuitBreaker, append([]breaker.Option{
		breaker.WithLogger(c.logger),
		breaker.WithMetrics(c.metrics),
	}, c.breakerOpts...)...)

	return c, nil
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records call outcomes, retries, rate-limit hits and breaker
// state.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetryOptions passes options to the retry policy.
func WithRetryOptions(opts ...retry.Option) ClientOption {
	return func(c *Client) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

// WithRateLimitOptions passes options to the rate limiter.
func WithRateLimitOptions(opts ...ratelimit.Option) ClientOption {
	return func(c *Client) {
		c.limiterOpts = append(c.limiterOpts, opts...)
	}
}

// WithBreakerOptions passes options to every circuit breaker.
func WithBreakerOptions(opts ...breaker.Option) ClientOption {
	return func(c *Client) {
		c.breakerOpts = append(c.breakerOpts, opts...)
	}
}

// Endpoints returns the configured endpoint keys, sorted.
func (c *Client) Endpoints() []string {
	keys := make([]string, 0, len(c.endpoints))
	for k := range c.endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClientStats contains runtime statistics.
type ClientStats struct {
	InFlight   int64                   `json:"in_flight"`
	Breakers   []breaker.Snapshot      `json:"breakers"`
	RateLimits []ratelimit.BucketStats `json:"rate_limits"`
}

// Stats returns current statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		InFlight:   c.inFlight.Load(),
		Breakers:   c.breakers.Snapshots(),
		RateLimits: c.limiter.Stats(),
	}
}
