package storefront

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STOREFRONT_WEBHOOK_SECRET
// or STOREFRONT_EMAIL_API_KEY.
const EnvPrefix = "STOREFRONT"

// LoadConfig reads an optional YAML file, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("webhook_secret", d.WebhookSecret)
	v.SetDefault("review_secret", d.ReviewSecret)
	v.SetDefault("webhook_tolerance", d.WebhookTolerance)
	v.SetDefault("public_base_url", d.PublicBaseURL)
	v.SetDefault("review_path", d.ReviewPath)

	v.SetDefault("email.api_url", d.Email.APIURL)
	v.SetDefault("email.api_key", d.Email.APIKey)
	v.SetDefault("email.from", d.Email.From)
	v.SetDefault("email.reply_to", d.Email.ReplyTo)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.redis.address", d.Cache.Redis.Address)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.redis.pool_size", d.Cache.Redis.PoolSize)
	v.SetDefault("cache.redis.min_idle_conns", d.Cache.Redis.MinIdleConns)
	v.SetDefault("cache.redis.dial_timeout", d.Cache.Redis.DialTimeout)
	v.SetDefault("cache.redis.read_timeout", d.Cache.Redis.ReadTimeout)
	v.SetDefault("cache.redis.write_timeout", d.Cache.Redis.WriteTimeout)
	v.SetDefault("cache.redis.enable_tls", d.Cache.Redis.EnableTLS)
	v.SetDefault("cache.redis.tls_skip_verify", d.Cache.Redis.TLSSkipVerify)
	v.SetDefault("cache.memory.max_size", d.Cache.Memory.MaxSize)
	v.SetDefault("cache.memory.cleanup_interval", d.Cache.Memory.CleanupInterval)

	v.SetDefault("circuit_breaker.max_requests", d.CircuitBreaker.MaxRequests)
	v.SetDefault("circuit_breaker.interval", d.CircuitBreaker.Interval)
	v.SetDefault("circuit_breaker.timeout", d.CircuitBreaker.Timeout)
	v.SetDefault("circuit_breaker.threshold", d.CircuitBreaker.Threshold)

	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)

	v.SetDefault("http_client.timeout", d.HTTPClient.Timeout)
	v.SetDefault("http_client.max_request_body_size", d.HTTPClient.MaxRequestBodySize)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
