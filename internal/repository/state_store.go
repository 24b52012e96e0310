package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StateStore abstracts ephemeral key-value state: cached network views and
// coordination locks. Implementations: Redis (production) or in-memory
// (local dev and tests).
type StateStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil without error when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

const keyPrefix = "referralhub:"

// NetworkViewKey is the cache key of a user's depth-bounded network view.
func NetworkViewKey(user uuid.UUID) string {
	return keyPrefix + "network:" + user.String()
}

// SweepLockKey guards the reconciliation sweep across instances.
func SweepLockKey() string {
	return keyPrefix + "lock:sweep"
}
