// Package idempotency remembers client supplied Idempotency-Key values so a
// retried request does not create a second order or refund.
package idempotency

import (
	"context"
	"fmt"
	"time"
)

const keyPrefix = "order-lifecycle:idempotency"

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = 24 * time.Hour

type Store interface {
	// Reserve claims key within scope. It returns false when the key is
	// already held.
	Reserve(ctx context.Context, scope, key string, ttl time.Duration) (bool, error)
	// Release frees a key whose request failed so the client may retry it.
	Release(ctx context.Context, scope, key string) error
}

// Key builds the storage key for a scope such as "checkout:42".
func Key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, scope, key)
}
