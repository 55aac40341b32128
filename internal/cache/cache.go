// Package cache provides the key/value stores that sit in front of
// permission lookups: a bounded in-process LRU and a shared redis backend.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys with a per-entry TTL.
// A missing or expired key is reported as ok == false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
