package shared

import (
	"context"
	"time"
)

// IdempotencyStore records claims on processed work (event deliveries, batch
// leases) so redeliveries and competing instances do not repeat it.
type IdempotencyStore interface {
	// MarkProcessed claims key for ttl. The first caller gets true; anyone
	// arriving while the claim is live gets false.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key holds a live claim.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release drops a claim before its TTL expires. Releasing an absent key
	// is not an error.
	Release(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

// IdempotencyConfig controls the event delivery dedup window.
type IdempotencyConfig struct {
	// TTL is how long a processed event ID stays claimed. A redelivery
	// arriving after the window is handled again.
	TTL time.Duration

	// Enabled turns duplicate detection off entirely when false.
	Enabled bool
}

// DefaultIdempotencyConfig keeps event IDs claimed for a day.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
