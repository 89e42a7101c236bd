// Package lock 提供 trader 周期与账户对账的互斥锁。
// 生产环境使用 Redis 后端跨进程互斥,测试与单机部署可用进程内后端。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

// ErrNotAcquired 表示锁被他人持有。这是正常的跳过信号,不是故障。
var ErrNotAcquired = errors.New("lock: 未获得锁")

const acquirePollInterval = 100 * time.Millisecond

// Mutex 为单个命名锁的句柄。
type Mutex interface {
	// TryAcquire 非阻塞尝试加锁,锁被占用时返回 ErrNotAcquired。
	TryAcquire(ctx context.Context) error
	// Acquire 阻塞轮询直到拿到锁或超时,超时返回 ErrNotAcquired。
	Acquire(ctx context.Context, timeout time.Duration) error
	// Release 释放锁;仅持有者可释放。
	Release(ctx context.Context) error
	// Extend 续期;仅持有者可续期。
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker 按名称发放锁。
type Locker interface {
	NewMutex(name string, ttl time.Duration) Mutex
	Close() error
}

// New 按配置创建锁后端。
func New(cfg config.LockConfig, logger *zap.Logger) (Locker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "redis":
		return newRedisLocker(cfg, logger)
	case "memory":
		return newMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("lock: 不支持的后端 %q", cfg.Backend)
	}
}

// TraderLockName 返回 trader 周期锁的键名。
func TraderLockName(traderID string) string {
	return "trader:cycle:" + traderID
}

// ReconcileLockName 返回账户对账锁的键名。
func ReconcileLockName(accountID string) string {
	return "reconcile:account:" + accountID
}

// blockingAcquire 以固定间隔轮询 try,直到成功或超时。
func blockingAcquire(ctx context.Context, timeout time.Duration, try func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(acquirePollInterval)
	defer ticker.Stop()

	for {
		err := try(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		if time.Now().After(deadline) {
			return ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
