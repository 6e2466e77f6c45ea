package redisclient

import (
	"context"
	"sync"
	"time"
)

type localSlotLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	ttl  time.Duration
}

// NewLocalSlotLocker returns a Locker for single-process deployments. It has
// the same fail-fast semantics as the Redis locker.
func NewLocalSlotLocker(ttl time.Duration) Locker {
	return &localSlotLocker{
		held: make(map[string]struct{}),
		ttl:  ttl,
	}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if !l.acquire(key) {
		return ErrLockNotAcquired
	}
	defer l.release(key)

	if l.ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.ttl)
		defer cancel()
	}
	return fn(ctx)
}

func (l *localSlotLocker) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *localSlotLocker) release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
