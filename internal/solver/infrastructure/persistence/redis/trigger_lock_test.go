package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/cache"
	"github.com/wyfcoding/cowsolver/pkg/logger"
)

// 需要真实 Redis，例如 COWSOLVER_REDIS_ADDR=127.0.0.1:6379
func newLock(t *testing.T, ttl time.Duration) (*TriggerLock, goredis.UniversalClient) {
	t.Helper()
	addr := os.Getenv("COWSOLVER_REDIS_ADDR")
	if addr == "" {
		t.Skip("COWSOLVER_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Del(context.Background(), triggerLockKey).Err())
	return NewTriggerLock(cache.NewWithClient(client, logger.Discard()), ttl, logger.Discard()), client
}

func TestTriggerLockExclusive(t *testing.T) {
	ctx := context.Background()
	lock, _ := newLock(t, 5*time.Second)

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx)
	assert.ErrorIs(t, err, domain.ErrTriggerBusy)

	release(ctx)
	release2, err := lock.Acquire(ctx)
	require.NoError(t, err)
	release2(ctx)
}

func TestTriggerLockReleaseKeepsForeignHolder(t *testing.T) {
	ctx := context.Background()
	lock, client := newLock(t, 50*time.Millisecond)

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	// 锁已过期并被另一个实例拿到
	peer := NewTriggerLock(cache.NewWithClient(client, logger.Discard()), 5*time.Second, logger.Discard())
	other, err := peer.Acquire(ctx)
	require.NoError(t, err)
	release(ctx)

	exists, err := client.Exists(ctx, triggerLockKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	other(ctx)
}
