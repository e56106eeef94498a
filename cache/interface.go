package cache

import (
	"context"
	"time"
)

// Cache records which payment events have already been settled so a
// redelivered webhook is acknowledged without being applied twice.
type Cache interface {
	// IsProcessed checks if an event has been processed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed marks an event as processed for ttl
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error

	// Close closes the cache and releases resources
	Close() error
}
