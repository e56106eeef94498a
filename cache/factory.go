package cache

import (
	"fmt"
	"time"
)

const defaultCleanupInterval = 1 * time.Hour

// Backend names accepted by NewCache.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// CacheConfig represents the cache configuration
type CacheConfig struct {
	Enabled bool
	Type    string
	Redis   RedisConfig
	Memory  MemoryConfig
}

// MemoryConfig represents memory cache configuration
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// NewCache creates a cache instance based on the configuration
func NewCache(cfg CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return NewNoOpCache(), nil
	}

	switch cfg.Type {
	case TypeMemory:
		return NewMemoryCache(cfg.Memory.MaxSize, cfg.Memory.CleanupInterval), nil
	case TypeRedis:
		return NewRedisCache(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
