package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

// 释放与续期都必须校验 token,避免误删他人持有的锁。
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

type redisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

func newRedisLocker(cfg config.LockConfig, logger *zap.Logger) (*redisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("lock: 连接 Redis 失败: %w", err)
	}

	return &redisLocker{client: client, logger: logger.Named("lock")}, nil
}

func (l *redisLocker) NewMutex(name string, ttl time.Duration) Mutex {
	return &redisMutex{
		client: l.client,
		key:    "lock:" + name,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}

type redisMutex struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (m *redisMutex) TryAcquire(ctx context.Context) error {
	ok, err := m.client.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: 加锁失败: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

func (m *redisMutex) Acquire(ctx context.Context, timeout time.Duration) error {
	return blockingAcquire(ctx, timeout, m.TryAcquire)
}

func (m *redisMutex) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, m.client, []string{m.key}, m.token).Int()
	if err != nil {
		return fmt.Errorf("lock: 释放锁失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lock: 锁 %s 已不归本持有者", m.key)
	}
	return nil
}

func (m *redisMutex) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, m.client, []string{m.key}, m.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: 续期失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lock: 锁 %s 已不归本持有者", m.key)
	}
	return nil
}
