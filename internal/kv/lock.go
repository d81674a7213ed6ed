package kv

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickethub/internal/status"
	"tickethub/utils"
)

// EventLock serializes capacity mutation per event. Acquisition waits with
// bounded exponential backoff up to a hard deadline; failure surfaces as the
// retryable status.ErrLockTimeout.
type EventLock struct {
	locker Locker
	ttl    time.Duration
	wait   time.Duration
}

func NewEventLock(locker Locker, ttl, wait time.Duration) *EventLock {
	return &EventLock{locker: locker, ttl: ttl, wait: wait}
}

// Lease is a held lock. Release is safe to call once; releasing after TTL
// expiry is a no-op on someone else's lock because the token no longer
// matches.
type Lease struct {
	locker Locker
	key    string
	token  string
}

func (l *EventLock) key(eventID string) string {
	return fmt.Sprintf("lock:capacity:%s", eventID)
}

func (l *EventLock) Acquire(ctx context.Context, eventID string) (*Lease, error) {
	key := l.key(eventID)

	var token string
	err := utils.DefaultBackoff(l.wait).Retry(ctx, status.ErrLockTimeout, func() (bool, error) {
		t, ok, err := l.locker.Acquire(ctx, key, l.ttl)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		token = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &Lease{locker: l.locker, key: key, token: token}, nil
}

func (le *Lease) Release(ctx context.Context) {
	ok, err := le.locker.Release(ctx, le.key, le.token)
	if err != nil {
		log.Printf("lock: release %s: %v", le.key, err)
		return
	}
	if !ok {
		// TTL expired before release; the holder that inherited the key
		// keeps it.
		log.Printf("lock: release %s: token no longer owner", le.key)
	}
}
