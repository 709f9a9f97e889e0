package repository

import (
	"context"
	"time"
)

// RateCounterStore backs the windowed rate limiter. IncrWindow must execute
// as a single atomic round trip against the store — never a read followed by
// a write — so concurrent increments on the same key cannot lose updates.
type RateCounterStore interface {
	// IncrWindow increments the counter under key and arranges for it to
	// expire once the window closes. Returns the counter value after the
	// increment.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
