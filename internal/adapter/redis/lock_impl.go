package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/affiliate-ingest/internal/repository"
)

const runLockPrefix = "ingest:lock:"

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock re-taken by another attempt is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLockImpl provides a concrete implementation for the RunLock interface using Redis.
type RunLockImpl struct {
	client *redis.Client
	onErr  func(error)
}

var _ repository.RunLock = (*RunLockImpl)(nil)

// NewRunLock creates a new instance of RunLockImpl. onErr receives release
// failures; it may be nil.
func NewRunLock(client *redis.Client, onErr func(error)) *RunLockImpl {
	return &RunLockImpl{client: client, onErr: onErr}
}

func (r *RunLockImpl) generateKey(sourceID string) string {
	return fmt.Sprintf("%s%s", runLockPrefix, sourceID)
}

// Acquire sets the lock key with SET NX and an expiry.
func (r *RunLockImpl) Acquire(ctx context.Context, sourceID string, ttl time.Duration) (func(), bool, error) {
	key := r.generateKey(sourceID)
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The attempt context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{key}, token).Err(); err != nil && r.onErr != nil {
			r.onErr(err)
		}
	}
	return release, true, nil
}
