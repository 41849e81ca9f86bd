package ports

import (
	"context"
	"time"
)

// Store is the durable key/value storage behind the session key and the
// credential. Get returns core.ErrNotFound for missing keys.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
