package storefront

import (
	"github.com/dawitel/storefront-edge/cache"
)

// newCache creates a cache instance from the configuration
func newCache(cfg CacheConfig) (cache.Cache, error) {
	if !cfg.Enabled {
		return cache.NewNoOpCache(), nil
	}

	return cache.NewCache(cache.CacheConfig{
		Enabled: cfg.Enabled,
		Type:    cfg.Type,
		Memory: cache.MemoryConfig{
			MaxSize:         cfg.Memory.MaxSize,
			CleanupInterval: cfg.Memory.CleanupInterval,
		},
		Redis: cache.RedisConfig{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			EnableTLS:     cfg.Redis.EnableTLS,
			TLSSkipVerify: cfg.Redis.TLSSkipVerify,
			TLSConfig:     cfg.Redis.TLSConfig,
		},
	})
}
