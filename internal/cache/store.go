package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned when a store method is invoked on a nil receiver.
var ErrNotInitialised = errors.New("cache: store not initialised")

// Store is the key/value contract shared by the client state and rate limiting layers.
// A ttl <= 0 stores the value without expiry.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by stores that need explicit removal of expired entries.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}
