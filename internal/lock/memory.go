package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryLocker 为进程内锁后端,语义与 Redis 后端一致。
type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	token    string
	expireAt time.Time
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{
		locks: make(map[string]*memoryEntry),
		now:   time.Now,
	}
}

func (l *memoryLocker) NewMutex(name string, ttl time.Duration) Mutex {
	return &memoryMutex{
		locker: l,
		key:    name,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *memoryLocker) Close() error { return nil }

func (l *memoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && entry.expireAt.After(now) {
		return false
	}
	l.locks[key] = &memoryEntry{token: token, expireAt: now.Add(ttl)}
	return true
}

func (l *memoryLocker) release(key, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok || entry.token != token || !entry.expireAt.After(l.now()) {
		return false
	}
	delete(l.locks, key)
	return true
}

func (l *memoryLocker) extend(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok || entry.token != token || !entry.expireAt.After(l.now()) {
		return false
	}
	entry.expireAt = l.now().Add(ttl)
	return true
}

type memoryMutex struct {
	locker *memoryLocker
	key    string
	token  string
	ttl    time.Duration
}

func (m *memoryMutex) TryAcquire(context.Context) error {
	if !m.locker.tryAcquire(m.key, m.token, m.ttl) {
		return ErrNotAcquired
	}
	return nil
}

func (m *memoryMutex) Acquire(ctx context.Context, timeout time.Duration) error {
	return blockingAcquire(ctx, timeout, m.TryAcquire)
}

func (m *memoryMutex) Release(context.Context) error {
	if !m.locker.release(m.key, m.token) {
		return ErrNotAcquired
	}
	return nil
}

func (m *memoryMutex) Extend(_ context.Context, ttl time.Duration) error {
	if !m.locker.extend(m.key, m.token, ttl) {
		return ErrNotAcquired
	}
	return nil
}
