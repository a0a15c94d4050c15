// Package redis 多实例部署下的结算互斥锁
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/cache"
)

const triggerLockKey = "cowsolver:trigger:lock"

// TriggerLock 基于 SET NX PX 的互斥锁，释放时校验持有者令牌
type TriggerLock struct {
	cache  *cache.RedisCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewTriggerLock(c *cache.RedisCache, ttl time.Duration, logger *slog.Logger) *TriggerLock {
	return &TriggerLock{cache: c, ttl: ttl, logger: logger.With("module", "trigger_lock")}
}

// Acquire 获取锁，已被其他实例持有时返回 ErrTriggerBusy
func (l *TriggerLock) Acquire(ctx context.Context) (func(context.Context), error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, triggerLockKey, token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrTriggerBusy
	}
	return func(ctx context.Context) {
		released, err := l.cache.CompareAndDelete(ctx, triggerLockKey, token)
		if err != nil {
			l.logger.ErrorContext(ctx, "release trigger lock failed", "error", err)
			return
		}
		if !released {
			l.logger.WarnContext(ctx, "trigger lock expired before release", "ttl", l.ttl)
		}
	}, nil
}
