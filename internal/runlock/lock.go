// Package runlock keeps two batches from publishing over each other when
// several schedulers share one output store.
package runlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrHeld          = errors.New("run_in_progress")
	ErrNotConfigured = errors.New("run lock client not configured")
)

// Lock guards one pipeline run. Release must be called with the context of
// the run that acquired it.
type Lock interface {
	Acquire(ctx context.Context) (Release, error)
}

type Release func(ctx context.Context) error

// Noop always grants the lock.
type Noop struct{}

func (Noop) Acquire(context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLock is a single-key SETNX lock whose release only deletes the key
// while it still carries this holder's token.
type RedisLock struct {
	client redis.Cmdable
	script *redis.Script
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("run lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("run lock ttl must be positive")
	}
	return &RedisLock{
		client: client,
		script: redis.NewScript(releaseScript),
		key:    key,
		ttl:    ttl,
	}, nil
}

func (l *RedisLock) Key() string { return l.key }

func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		return l.script.Run(ctx, l.client, []string{l.key}, token).Err()
	}, nil
}
