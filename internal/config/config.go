package config

import "time"

// Config is the root configuration for the communication core.
type Config struct {
	API            APIConfig            `yaml:"api"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Stream         StreamConfig         `yaml:"stream"`
	DeadLetter     DeadLetterConfig     `yaml:"dead_letter"`
	Health         HealthConfig         `yaml:"health"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// APIConfig holds third-party API settings.
type APIConfig struct {
	BaseURL       string            `yaml:"base_url"`
	AccessToken   string            `yaml:"access_token"`
	Endpoints     map[string]string `yaml:"endpoints"` // endpoint key → path
	Timeout       TimeoutConfig     `yaml:"timeout"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	RateLimitWait float64           `yaml:"rate_limit_wait"` // seconds to wait for a token
}

// TimeoutConfig holds request timeouts in seconds.
type TimeoutConfig struct {
	Connect float64 `yaml:"connect"`
	Read    float64 `yaml:"read"`
	Total   float64 `yaml:"total"`
}

// RateLimitConfig mirrors the external rate-limit document.
type RateLimitConfig struct {
	Default   BucketConfig            `yaml:"default"`
	Endpoints map[string]BucketConfig `yaml:"endpoints"`
	Strategy  string                  `yaml:"strategy"`
}

// BucketConfig describes one token bucket. Period is in seconds.
type BucketConfig struct {
	Calls      int     `yaml:"calls"`
	Period     float64 `yaml:"period"`
	BurstLimit int     `yaml:"burst_limit"`
}

// RetryConfig holds retry policy settings. Delays are in seconds.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts"`
	InitialDelay       float64 `yaml:"initial_delay"`
	MaxDelay           float64 `yaml:"max_delay"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
	RetryOnStatusCodes []int   `yaml:"retry_on_status_codes"`
}

// CircuitBreakerConfig holds circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	OpenDuration     time.Duration `yaml:"open_duration"`
}

// StreamConfig holds persistent event-stream settings.
type StreamConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	EventTypes        []string      `yaml:"event_types"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	GrowFactor        float64       `yaml:"grow_factor"`
	MaxRetries        int           `yaml:"max_retries"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
}

// DeadLetterConfig controls recording of evicted outbound messages.
type DeadLetterConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Table      string   `yaml:"table"`
	BufferSize int      `yaml:"buffer_size"`
	Database   DBConfig `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds API health probe settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Endpoint string        `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus metrics and ops server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Seconds converts a seconds value from the config file into a duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
