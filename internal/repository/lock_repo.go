package repository

import (
	"context"
	"time"
)

// RunLock prevents two concurrent attempts for the same source.
type RunLock interface {
	// Acquire takes the lock for sourceID for at most ttl. ok is false when
	// another attempt holds it. release is nil when ok is false.
	Acquire(ctx context.Context, sourceID string, ttl time.Duration) (release func(), ok bool, err error)
}
