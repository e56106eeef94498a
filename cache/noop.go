package cache

import (
	"context"
	"time"
)

// NoOpCache is used when deduplication is disabled. Every event is new.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// IsProcessed always reports false.
func (c *NoOpCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return false, nil
}

// MarkProcessed does not persist any state.
func (c *NoOpCache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	return nil
}

// Close is a no-op.
func (c *NoOpCache) Close() error {
	return nil
}
