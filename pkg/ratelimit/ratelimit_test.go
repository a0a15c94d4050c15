package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalRateLimiter()
	limit := Limit{Rate: 1, Period: time.Hour, Burst: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "alice", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := l.Allow(ctx, "alice", limit)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// 不同 key 互不影响
	res, err = l.Allow(ctx, "bob", limit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
