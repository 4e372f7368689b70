package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/affiliate-ingest/internal/entity"
)

// newClient connects to REDIS_TEST_ADDR or skips.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunLock(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	lock := NewRunLock(client, func(err error) { t.Errorf("release: %v", err) })
	source := "test-" + uuid.NewString()

	release, ok, err := lock.Acquire(ctx, source, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, source, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := lock.Acquire(ctx, source, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestResultStore(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	store := NewResultStore(client, 2)
	source := "test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), store.generateKey(source)) })

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Record(ctx, entity.IngestionResult{SourceID: source, Persisted: i, Status: entity.StatusSuccess}))
	}
	got, err := store.Recent(ctx, source, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Persisted)
	assert.Equal(t, 2, got[1].Persisted)
}
