package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/pkg/logger"
)

func TestKeeperRunOnceSettles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.svc.Submit(ctx, h.request(t, assetX, assetY, 1_000))
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, h.request(t, assetY, assetX, 1_000))
	require.NoError(t, err)

	job := NewKeeperJob(h.svc, time.Minute, logger.Discard())
	job.RunOnce(ctx)

	assert.Equal(t, uint64(2), h.svc.Stats().TotalSettlements)
	assert.Zero(t, h.svc.Queue().Pending)

	// 空队列再跑一轮不报错也不改变计数
	job.RunOnce(ctx)
	assert.Equal(t, uint64(2), h.svc.Stats().TotalSettlements)
}

func TestKeeperStartStopsWithContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewKeeperJob(h.svc, 5*time.Millisecond, logger.Discard()).Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
