package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("provider lock not acquired")
)

const (
	retryInterval = 20 * time.Millisecond

	// keyMargin keeps the Redis key alive past the critical section deadline.
	keyMargin = 500 * time.Millisecond
)

// Locker serializes bookings per provider and calendar day. A caller that
// cannot enter the critical section within the configured wait gets
// ErrLockNotAcquired instead of queueing.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error
}

func lockKey(providerID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:provider:%s:%s", providerID.String(), date.Format("2006-01-02"))
}

type redisProviderLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisProviderLocker creates a locker that uses a per provider-day Redis key,
// shared by every api-server instance.
func NewRedisProviderLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisProviderLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisProviderLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := lockKey(providerID, date)
	token := uuid.NewString()

	acquiredAt, err := l.acquire(ctx, key, token)
	if err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithDeadline, cancel := context.WithDeadline(ctx, fnDeadline(acquiredAt, l.ttl))
	defer cancel()

	return fn(ctxWithDeadline)
}

// keyTTL is the expiry set on the lock key. The key outlives fnDeadline for
// the same acquire time, so fn's context is done before another caller can
// take the lock.
func keyTTL(ttl time.Duration) time.Duration {
	return ttl + keyMargin
}

// fnDeadline bounds the critical section. It counts from before the
// successful SETNX was sent, not from when the reply arrived.
func fnDeadline(acquiredAt time.Time, ttl time.Duration) time.Time {
	return acquiredAt.Add(ttl)
}

func (l *redisProviderLocker) acquire(ctx context.Context, key, token string) (time.Time, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		sentAt := time.Now()
		ok, err := l.client.SetNX(waitCtx, key, token, keyTTL(l.ttl)).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return time.Time{}, ErrLockNotAcquired
			}
			return time.Time{}, fmt.Errorf("acquire provider lock: %w", err)
		}
		if ok {
			return sentAt, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			return time.Time{}, ErrLockNotAcquired
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisProviderLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider lock: %w", err)
	}
	return nil
}
