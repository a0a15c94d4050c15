// Package cache Redis 客户端封装，提供连接检测与带持有者令牌的 SetNX / 删除
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// 只有 value 与持有者令牌一致时才删除
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache Redis 客户端
type RedisCache struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New 创建并检测连接
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		DialTimeout:     time.Duration(cfg.ConnTimeout) * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "redis connected", "addr", addr)
	return &RedisCache{client: client, logger: logger.With("module", "redis")}, nil
}

// NewWithClient 包装已有客户端
func NewWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger.With("module", "redis")}
}

// SetNX 仅当 key 不存在时写入（分布式锁）
func (rc *RedisCache) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	ok, err := rc.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		rc.logger.ErrorContext(ctx, "redis SETNX failed", "key", key, "error", err)
		return false, err
	}
	return ok, nil
}

// CompareAndDelete key 的值等于 token 时删除，返回是否删除
func (rc *RedisCache) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, rc.client, []string{key}, token).Int()
	if err != nil {
		rc.logger.ErrorContext(ctx, "redis compare-and-delete failed", "key", key, "error", err)
		return false, err
	}
	return n == 1, nil
}

// Close 关闭连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client 底层客户端
func (rc *RedisCache) Client() redis.UniversalClient {
	return rc.client
}
