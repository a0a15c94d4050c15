package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// KeeperJob 以 operator 身份定期清理过期意图并触发结算
type KeeperJob struct {
	svc      *SolverService
	interval time.Duration
	logger   *slog.Logger
}

func NewKeeperJob(svc *SolverService, interval time.Duration, logger *slog.Logger) *KeeperJob {
	return &KeeperJob{svc: svc, interval: interval, logger: logger.With("module", "keeper")}
}

// Start 阻塞直到 ctx 结束
func (j *KeeperJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("keeper job started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("keeper job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮。失败的 trigger 不消费 intake，下一轮自然重试。
func (j *KeeperJob) RunOnce(ctx context.Context) {
	operator := j.svc.Operator()

	if _, err := j.svc.EvictExpired(ctx, operator); err != nil {
		j.logger.WarnContext(ctx, "evict expired intents failed", "error", err)
	}

	res, err := j.svc.Trigger(ctx, operator)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		j.logger.ErrorContext(ctx, "keeper trigger failed", "error", err)
	case !res.Empty:
		j.logger.InfoContext(ctx, "keeper trigger settled", "intents", res.IntentCount, "batches", len(res.Batches))
	}
}
