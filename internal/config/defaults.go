package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL          = "https://api.linkedin.com"
	DefaultConnectTimeout   = 5
	DefaultReadTimeout      = 30
	DefaultTotalTimeout     = 35
	DefaultMaxConcurrent    = 10
	DefaultRateLimitWait    = 10
	DefaultStrategy         = "token_bucket"
	DefaultCalls            = 100
	DefaultPeriod           = 60
	DefaultBurstLimit       = 150
	DefaultMaxAttempts      = 3
	DefaultInitialDelay     = 1
	DefaultMaxDelay         = 10
	DefaultBackoffFactor    = 2
	DefaultFailureThreshold = 5
	DefaultBreakerWindow    = 60 * time.Second
	DefaultOpenDuration     = 60 * time.Second

	DefaultStreamMinDelay    = 1 * time.Second
	DefaultStreamMaxDelay    = 30 * time.Second
	DefaultGrowFactor        = 2
	DefaultMaxRetries        = 10
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultQueueCapacity     = 1000
	DefaultDrainTimeout      = 5 * time.Second

	DefaultDeadLetterTable  = "dead_letters"
	DefaultDeadLetterBuffer = 256
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1

	DefaultHealthInterval = 60 * time.Second
	DefaultHealthEndpoint = "health"
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
)

// DefaultRetryStatusCodes are the HTTP statuses retried when none are configured.
var DefaultRetryStatusCodes = []int{429, 500, 502, 503, 504}

// DefaultEndpoints maps endpoint keys to API paths.
var DefaultEndpoints = map[string]string{
	"search":  "/v2/search",
	"profile": "/v2/profile",
	"health":  "/v2/health",
}

// DefaultEndpointLimits are the per-endpoint bucket overrides.
var DefaultEndpointLimits = map[string]BucketConfig{
	"search":  {Calls: 50, Period: 60},
	"profile": {Calls: 100, Period: 60},
}

// DefaultEventTypes are the push event types subscribers may register for.
var DefaultEventTypes = []string{
	"search.completed",
	"search.progress",
	"profile.updated",
	"analysis.completed",
	"notification",
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Endpoints == nil {
		c.API.Endpoints = make(map[string]string, len(DefaultEndpoints))
	}
	for key, path := range DefaultEndpoints {
		if _, ok := c.API.Endpoints[key]; !ok {
			c.API.Endpoints[key] = path
		}
	}
	if c.API.Timeout.Connect == 0 {
		c.API.Timeout.Connect = DefaultConnectTimeout
	}
	if c.API.Timeout.Read == 0 {
		c.API.Timeout.Read = DefaultReadTimeout
	}
	if c.API.Timeout.Total == 0 {
		c.API.Timeout.Total = DefaultTotalTimeout
	}
	if c.API.MaxConcurrent == 0 {
		c.API.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.API.RateLimitWait == 0 {
		c.API.RateLimitWait = DefaultRateLimitWait
	}

	// Rate limit defaults
	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = DefaultStrategy
	}
	if c.RateLimit.Default.Calls == 0 {
		c.RateLimit.Default.Calls = DefaultCalls
	}
	if c.RateLimit.Default.Period == 0 {
		c.RateLimit.Default.Period = DefaultPeriod
	}
	if c.RateLimit.Default.BurstLimit == 0 {
		c.RateLimit.Default.BurstLimit = DefaultBurstLimit
	}
	if c.RateLimit.Endpoints == nil {
		c.RateLimit.Endpoints = make(map[string]BucketConfig, len(DefaultEndpointLimits))
		for name, b := range DefaultEndpointLimits {
			c.RateLimit.Endpoints[name] = b
		}
	}
	for name, b := range c.RateLimit.Endpoints {
		if b.Period == 0 {
			b.Period = c.RateLimit.Default.Period
		}
		if b.BurstLimit == 0 {
			b.BurstLimit = b.Calls
		}
		c.RateLimit.Endpoints[name] = b
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = DefaultInitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = DefaultBackoffFactor
	}
	if c.Retry.RetryOnStatusCodes == nil {
		c.Retry.RetryOnStatusCodes = append([]int(nil), DefaultRetryStatusCodes...)
	}

	// Circuit breaker defaults
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.CircuitBreaker.Window == 0 {
		c.CircuitBreaker.Window = DefaultBreakerWindow
	}
	if c.CircuitBreaker.OpenDuration == 0 {
		c.CircuitBreaker.OpenDuration = DefaultOpenDuration
	}

	applyStreamDefaults(&c.Stream)

	// Dead letter defaults
	if c.DeadLetter.Table == "" {
		c.DeadLetter.Table = DefaultDeadLetterTable
	}
	if c.DeadLetter.BufferSize == 0 {
		c.DeadLetter.BufferSize = DefaultDeadLetterBuffer
	}
	applyDBDefaults(&c.DeadLetter.Database)

	// Health, metrics, logging defaults
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.Endpoint == "" {
		c.Health.Endpoint = DefaultHealthEndpoint
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyStreamDefaults(s *StreamConfig) {
	if s.EventTypes == nil {
		s.EventTypes = append([]string(nil), DefaultEventTypes...)
	}
	if s.MinDelay == 0 {
		s.MinDelay = DefaultStreamMinDelay
	}
	if s.MaxDelay == 0 {
		s.MaxDelay = DefaultStreamMaxDelay
	}
	if s.GrowFactor == 0 {
		s.GrowFactor = DefaultGrowFactor
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = DefaultQueueCapacity
	}
	if s.DrainTimeout == 0 {
		s.DrainTimeout = DefaultDrainTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
