package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localProviderLocker is the single-instance fallback used when no Redis is
// configured: a mutex per provider-day, acquired with a bounded wait.
type localProviderLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

type localSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalProviderLocker(wait time.Duration) Locker {
	return &localProviderLocker{
		slots: make(map[string]*localSlot),
		wait:  wait,
	}
}

func (l *localProviderLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := lockKey(providerID, date)
	slot := l.ref(key)
	defer l.unref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot.sem <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot.sem }()

	return fn(ctx)
}

func (l *localProviderLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *localProviderLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
