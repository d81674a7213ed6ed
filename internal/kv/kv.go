// Package kv abstracts the lock/cache backend: plain TTL'd key/value storage
// plus a short-lived, owner-checked distributed lock.
package kv

import (
	"context"
	"time"
)

// KV is the cache side of the backend. Get returns ("", nil) for a missing
// key.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Locker is the mutual-exclusion side. Acquire returns an owner token when
// the lock is taken, or ok=false when someone else holds it. Release is
// atomic compare-and-delete on the token: a lock can never be released by a
// non-owner, even after TTL-based reassignment.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}
