package storefront

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dawitel/storefront-edge/cache"
	"github.com/dawitel/storefront-edge/webhooksig"
)

const (
	// Default values
	DefaultWebhookTolerance   = webhooksig.DefaultTolerance
	DefaultMaxRequestBodySize = 1 * 1024 * 1024 // 1MB
	DefaultReviewPath         = "/review"
	DefaultEmailAPIURL        = "https://api.resend.com"
	DefaultDedupTTL           = 24 * time.Hour
	DefaultListenAddr         = ":8080"

	// Circuit breaker defaults
	DefaultCircuitBreakerMaxRequests = 5
	DefaultCircuitBreakerInterval    = 60 * time.Second
	DefaultCircuitBreakerTimeout     = 30 * time.Second
	DefaultCircuitBreakerThreshold   = 0.7

	// Retry defaults
	DefaultRetryInitialDelay = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultRetryMaxAttempts  = 3
	DefaultRetryMultiplier   = 2.0

	// HTTP client defaults
	DefaultHTTPTimeout = 15 * time.Second

	// Redis defaults
	DefaultRedisPoolSize     = 10
	DefaultRedisMinIdleConns = 2
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second

	// Memory cache defaults
	DefaultMemoryCacheMaxSize         = 10000
	DefaultMemoryCacheCleanupInterval = 1 * time.Hour
)

// Config represents the edge handler configuration. Secrets are loaded once
// at startup and never mutated.
type Config struct {
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	ReviewSecret     string        `mapstructure:"review_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`

	// PublicBaseURL is the storefront origin review links point at.
	PublicBaseURL string `mapstructure:"public_base_url"`
	ReviewPath    string `mapstructure:"review_path"`

	Email EmailConfig `mapstructure:"email"`

	Cache CacheConfig `mapstructure:"cache"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	Retry RetryConfig `mapstructure:"retry"`

	HTTPClient HTTPClientConfig `mapstructure:"http_client"`

	Server ServerConfig `mapstructure:"server"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// EmailConfig configures the transactional email provider. Email is
// disabled when APIKey is empty.
type EmailConfig struct {
	APIURL  string `mapstructure:"api_url"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
	ReplyTo string `mapstructure:"reply_to"`
}

// Enabled reports whether outbound email is configured.
func (e EmailConfig) Enabled() bool {
	return e.APIKey != ""
}

// CacheConfig configures payment event deduplication
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Type       string        `mapstructure:"type"` // "redis" or "memory"
	Redis      RedisConfig   `mapstructure:"redis"`
	Memory     MemoryConfig  `mapstructure:"memory"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RedisConfig configures Redis connection
type RedisConfig struct {
	Address       string        `mapstructure:"address"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	MinIdleConns  int           `mapstructure:"min_idle_conns"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableTLS     bool          `mapstructure:"enable_tls"`
	TLSSkipVerify bool          `mapstructure:"tls_skip_verify"`
	TLSConfig     *tls.Config   `mapstructure:"-"`
}

// MemoryConfig configures in-memory cache
type MemoryConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CircuitBreakerConfig configures circuit breaker
type CircuitBreakerConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Threshold   float64       `mapstructure:"threshold"` // Failure ratio threshold (0.0-1.0)
}

// RetryConfig configures retry strategy
type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// HTTPClientConfig configures HTTP client
type HTTPClientConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
}

// ServerConfig configures listeners for the serve command
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // "json", "console"
}

// ConfigBuilder provides a fluent interface for building Config
type ConfigBuilder struct {
	config *Config
}

// DefaultConfig returns a Config with every default applied and no secrets.
func DefaultConfig() *Config {
	return &Config{
		WebhookTolerance: DefaultWebhookTolerance,
		ReviewPath:       DefaultReviewPath,
		Email: EmailConfig{
			APIURL: DefaultEmailAPIURL,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Type:       cache.TypeMemory,
			DefaultTTL: DefaultDedupTTL,
			Redis: RedisConfig{
				PoolSize:     DefaultRedisPoolSize,
				MinIdleConns: DefaultRedisMinIdleConns,
				DialTimeout:  DefaultRedisDialTimeout,
				ReadTimeout:  DefaultRedisReadTimeout,
				WriteTimeout: DefaultRedisWriteTimeout,
			},
			Memory: MemoryConfig{
				MaxSize:         DefaultMemoryCacheMaxSize,
				CleanupInterval: DefaultMemoryCacheCleanupInterval,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: DefaultCircuitBreakerMaxRequests,
			Interval:    DefaultCircuitBreakerInterval,
			Timeout:     DefaultCircuitBreakerTimeout,
			Threshold:   DefaultCircuitBreakerThreshold,
		},
		Retry: RetryConfig{
			InitialDelay: DefaultRetryInitialDelay,
			MaxDelay:     DefaultRetryMaxDelay,
			MaxAttempts:  DefaultRetryMaxAttempts,
			Multiplier:   DefaultRetryMultiplier,
		},
		HTTPClient: HTTPClientConfig{
			Timeout:            DefaultHTTPTimeout,
			MaxRequestBodySize: DefaultMaxRequestBodySize,
		},
		Server: ServerConfig{
			Addr: DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig creates a new ConfigBuilder with defaults
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

// WithWebhookSecret sets the payment webhook signing secret
func (b *ConfigBuilder) WithWebhookSecret(secret string) *ConfigBuilder {
	b.config.WebhookSecret = secret
	return b
}

// WithReviewSecret sets the review link signing secret
func (b *ConfigBuilder) WithReviewSecret(secret string) *ConfigBuilder {
	b.config.ReviewSecret = secret
	return b
}

// WithWebhookTolerance sets the webhook replay window. Zero disables it.
func (b *ConfigBuilder) WithWebhookTolerance(d time.Duration) *ConfigBuilder {
	b.config.WebhookTolerance = d
	return b
}

// WithPublicBaseURL sets the origin used in review links
func (b *ConfigBuilder) WithPublicBaseURL(u string) *ConfigBuilder {
	b.config.PublicBaseURL = u
	return b
}

// WithEmail sets the email provider configuration
func (b *ConfigBuilder) WithEmail(email EmailConfig) *ConfigBuilder {
	if email.APIURL == "" {
		email.APIURL = DefaultEmailAPIURL
	}
	b.config.Email = email
	return b
}

// WithCache sets the cache configuration
func (b *ConfigBuilder) WithCache(cache CacheConfig) *ConfigBuilder {
	b.config.Cache = cache
	return b
}

// WithCircuitBreaker sets the circuit breaker configuration
func (b *ConfigBuilder) WithCircuitBreaker(cb CircuitBreakerConfig) *ConfigBuilder {
	b.config.CircuitBreaker = cb
	return b
}

// WithRetry sets the retry configuration
func (b *ConfigBuilder) WithRetry(retry RetryConfig) *ConfigBuilder {
	b.config.Retry = retry
	return b
}

// WithHTTPClient sets the HTTP client configuration
func (b *ConfigBuilder) WithHTTPClient(hc HTTPClientConfig) *ConfigBuilder {
	b.config.HTTPClient = hc
	return b
}

// WithLogging sets the logging configuration
func (b *ConfigBuilder) WithLogging(logging LoggingConfig) *ConfigBuilder {
	b.config.Logging = logging
	return b
}

// Build validates and returns the Config
func (b *ConfigBuilder) Build() (*Config, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	return b.config, nil
}

// Validate validates the configuration. A missing secret is fatal: the
// edge must not start with a route that would accept unsigned input.
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return errors.New("WebhookSecret is required")
	}

	if c.ReviewSecret == "" {
		return errors.New("ReviewSecret is required")
	}

	if c.WebhookTolerance < 0 {
		return errors.New("webhook tolerance must not be negative")
	}

	if c.Email.Enabled() {
		if c.Email.From == "" {
			return errors.New("email From address is required when email is enabled")
		}
		if _, err := url.ParseRequestURI(c.Email.APIURL); err != nil {
			return fmt.Errorf("invalid email API URL: %w", err)
		}
		if c.PublicBaseURL == "" {
			return errors.New("PublicBaseURL is required when email is enabled")
		}
	}

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public base URL: %s", c.PublicBaseURL)
		}
	}

	if c.Cache.Enabled {
		if c.Cache.Type != cache.TypeRedis && c.Cache.Type != cache.TypeMemory {
			return fmt.Errorf("invalid cache type: %s (must be 'redis' or 'memory')", c.Cache.Type)
		}

		if c.Cache.Type == cache.TypeRedis && c.Cache.Redis.Address == "" {
			return errors.New("Redis address is required when using Redis cache")
		}
	}

	if c.CircuitBreaker.Threshold < 0 || c.CircuitBreaker.Threshold > 1 {
		return errors.New("circuit breaker threshold must be between 0 and 1")
	}

	if c.Retry.Multiplier <= 0 {
		return errors.New("retry multiplier must be greater than 0")
	}

	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry max attempts must be greater than 0")
	}

	if c.HTTPClient.MaxRequestBodySize <= 0 {
		return errors.New("max request body size must be greater than 0")
	}

	return nil
}
