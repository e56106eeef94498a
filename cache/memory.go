package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache keeps processed event IDs in process memory. It is only
// correct for a single edge instance; use RedisCache when scaled out.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	maxSize int
	now     func() time.Time
	cleanup *time.Ticker
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	c := &MemoryCache{
		entries: make(map[string]time.Time),
		maxSize: maxSize,
		now:     time.Now,
		cleanup: time.NewTicker(cleanupInterval),
		stop:    make(chan struct{}),
	}

	go c.cleanupExpired()

	return c
}

// IsProcessed checks if an event has been processed
func (c *MemoryCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt, exists := c.entries[eventID]
	if !exists {
		return false, nil
	}
	if c.now().After(expiresAt) {
		delete(c.entries, eventID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed marks an event as processed
func (c *MemoryCache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[eventID]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	c.entries[eventID] = now.Add(ttl)
	return nil
}

// Len returns the number of tracked events, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup loop and drops all entries
func (c *MemoryCache) Close() error {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.stop)
	})

	c.mu.Lock()
	c.entries = make(map[string]time.Time)
	c.mu.Unlock()
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry when
// none have expired.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
		evicted   bool
	)
	for key, expiresAt := range c.entries {
		if now.After(expiresAt) {
			delete(c.entries, key)
			evicted = true
			continue
		}
		if oldestKey == "" || expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = key, expiresAt
		}
	}
	if !evicted && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.mu.Lock()
			now := c.now()
			for key, expiresAt := range c.entries {
				if now.After(expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
