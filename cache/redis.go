package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "storefront_edge:payment_event:"

// RedisCache shares processed event IDs across edge instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisConfig locates the Redis store that holds settled payment event IDs.
type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	EnableTLS     bool
	TLSSkipVerify bool
	TLSConfig     *tls.Config
}

// NewRedisCache connects to the shared payment event store and pings it once.
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	if config.EnableTLS {
		opts.TLSConfig = config.TLSConfig
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{
				InsecureSkipVerify: config.TLSSkipVerify,
			}
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to payment event dedup store at %s: %w", config.Address, err)
	}

	return &RedisCache{
		client: client,
		prefix: redisKeyPrefix,
	}, nil
}

// IsProcessed reports whether any instance has already settled eventID.
func (c *RedisCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check payment event %s: %w", eventID, err)
	}
	return exists > 0, nil
}

// MarkProcessed records eventID as settled for ttl so redeliveries are skipped.
func (c *RedisCache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(eventID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark payment event %s processed: %w", eventID, err)
	}
	return nil
}

func (c *RedisCache) key(eventID string) string {
	return c.prefix + eventID
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
