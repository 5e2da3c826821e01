package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker serializes across processes with SET NX and a token checked on release.
type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	ttl     time.Duration
	maxWait time.Duration
	log     *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl, maxWait time.Duration, log *zap.Logger) *RedisLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		ttl:     ttl,
		maxWait: maxWait,
		log:     log.Named("lock.redis"),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Acquire polls TryLock with exponential backoff until maxWait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = l.maxWait

	var token string
	op := func() error {
		t, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		token = t
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	return func() {
		// release must run even when the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx, key, token); err != nil {
			l.log.Warn("release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
