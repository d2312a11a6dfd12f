package gistgateway

import "time"

// DefaultTTLSeconds is the cache lifetime used when no TTL is configured.
const DefaultTTLSeconds = 300

// Config holds the configuration for the gist gateway.
type Config struct {
	// Server controls the HTTP listener.
	Server ServerConfig `json:"server" yaml:"server"`
	// Upstream controls the GitHub API client.
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	// Cache controls the in-memory gist cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`
	// RateLimit, when present, throttles callers per client IP.
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// CircuitBreaker, when present, trips the upstream path open after
	// repeated failures instead of hammering a broken API.
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	// RequestLog, when present, persists a per-request audit trail.
	RequestLog *RequestLogConfig `json:"request_log,omitempty" yaml:"request_log,omitempty"`
	// Logging configures the structured logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port                int      `json:"port,omitempty" yaml:"port,omitempty"`
	ReadTimeoutSeconds  int      `json:"read_timeout_seconds,omitempty" yaml:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds,omitempty" yaml:"write_timeout_seconds,omitempty"`
	IdleTimeoutSeconds  int      `json:"idle_timeout_seconds,omitempty" yaml:"idle_timeout_seconds,omitempty"`
	CORSOrigins         []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// UpstreamConfig controls the GitHub API client. An empty BaseURL selects
// the public API.
type UpstreamConfig struct {
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	UserAgent      string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// Timeout returns the upstream request timeout, defaulting to 10s.
func (c UpstreamConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig controls the in-memory gist cache. TTLSeconds is a pointer so
// an explicit 0 (cache everything but serve nothing stale, i.e. entries
// expire on first read) can be told apart from an omitted value, which means
// the 300s default.
type CacheConfig struct {
	TTLSeconds           *int `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	SweepIntervalSeconds int  `json:"sweep_interval_seconds,omitempty" yaml:"sweep_interval_seconds,omitempty"`
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds == nil {
		return DefaultTTLSeconds * time.Second
	}
	return time.Duration(*c.TTLSeconds) * time.Second
}

// SweepInterval returns the janitor interval, or 0 when sweeping is off.
func (c CacheConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// RateLimitConfig throttles callers per client IP with a token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             float64 `json:"burst" yaml:"burst"`
}

// CircuitBreakerConfig trips the upstream path after FailureThreshold
// consecutive failures; after Cooldown a single probe request is let through.
type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	CooldownSeconds  int `json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// Cooldown returns the open-state duration, defaulting to 30s.
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RequestLogConfig persists the request audit trail to SQL.
type RequestLogConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug/info/warn/error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is "json" or "text".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultConfig returns the configuration the gateway runs with when no
// config file is supplied: port 8080, the public GitHub API, a 300s cache
// TTL, and every optional subsystem off.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 30,
			IdleTimeoutSeconds:  60,
		},
	}
}
