package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is invalid: %w", err)
	}
	for _, key := range sortedKeys(c.API.Endpoints) {
		if c.API.Endpoints[key] == "" {
			return fmt.Errorf("api.endpoints.%s must not be empty", key)
		}
	}
	if c.API.Timeout.Connect <= 0 || c.API.Timeout.Read <= 0 || c.API.Timeout.Total <= 0 {
		return errors.New("api.timeout values must be > 0")
	}
	if c.API.MaxConcurrent < 1 {
		return errors.New("api.max_concurrent must be >= 1")
	}
	if c.API.RateLimitWait < 0 {
		return errors.New("api.rate_limit_wait must be >= 0")
	}

	if c.RateLimit.Strategy != DefaultStrategy {
		return fmt.Errorf("rate_limit.strategy %q is not supported", c.RateLimit.Strategy)
	}
	if err := c.RateLimit.Default.validate("rate_limit.default"); err != nil {
		return err
	}
	for _, name := range sortedKeys(c.RateLimit.Endpoints) {
		if err := c.RateLimit.Endpoints[name].validate("rate_limit.endpoints." + name); err != nil {
			return err
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialDelay <= 0 {
		return errors.New("retry.initial_delay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay (%v) cannot be less than initial_delay (%v)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.BackoffFactor < 1 {
		return errors.New("retry.backoff_factor must be >= 1")
	}
	for _, code := range c.Retry.RetryOnStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("retry.retry_on_status_codes contains invalid status %d", code)
		}
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New("circuit_breaker.failure_threshold must be >= 1")
	}
	if c.CircuitBreaker.OpenDuration <= 0 {
		return errors.New("circuit_breaker.open_duration must be > 0")
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if c.DeadLetter.Enabled {
		if !validTableName.MatchString(c.DeadLetter.Table) {
			return fmt.Errorf("dead_letter.table %q is not a valid table name", c.DeadLetter.Table)
		}
		if err := c.DeadLetter.Database.validate("dead_letter.database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (b BucketConfig) validate(prefix string) error {
	if b.Calls < 1 {
		return fmt.Errorf("%s.calls must be >= 1", prefix)
	}
	if b.Period <= 0 {
		return fmt.Errorf("%s.period must be > 0", prefix)
	}
	if b.BurstLimit < 1 {
		return fmt.Errorf("%s.burst_limit must be >= 1", prefix)
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("stream.url is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("stream.url scheme must be ws or wss, got %q", u.Scheme)
		}
	}
	if s.MinDelay <= 0 || s.MaxDelay < s.MinDelay {
		return fmt.Errorf("stream.max_delay (%v) cannot be less than min_delay (%v)", s.MaxDelay, s.MinDelay)
	}
	if s.GrowFactor < 1 {
		return errors.New("stream.grow_factor must be >= 1")
	}
	if s.MaxRetries < 0 {
		return errors.New("stream.max_retries must be >= 0")
	}
	if s.HeartbeatTimeout <= s.HeartbeatInterval {
		return fmt.Errorf("stream.heartbeat_timeout (%v) must exceed heartbeat_interval (%v)", s.HeartbeatTimeout, s.HeartbeatInterval)
	}
	if s.QueueCapacity < 1 {
		return errors.New("stream.queue_capacity must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
