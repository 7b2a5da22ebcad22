package runlock

import (
	"context"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRedis implements the two commands the lock issues.
type fakeRedis struct {
	redis.Cmdable

	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0] {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLock_ExcludesSecondHolder(t *testing.T) {
	client := newFakeRedis()
	lock, err := NewRedisLock(client, "loanportfolio:run", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, client.ttls["loanportfolio:run"])

	_, err = lock.Acquire(ctx)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, release(ctx))
	release, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLock_ReleaseKeepsForeignToken(t *testing.T) {
	client := newFakeRedis()
	lock, err := NewRedisLock(client, "k", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)

	// The key expired and another run took it over.
	client.values["k"] = "someone-else"
	require.NoError(t, release(ctx))
	assert.Equal(t, "someone-else", client.values["k"])
}

func TestNewRedisLock_Validates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewRedisLock(newFakeRedis(), " ", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(newFakeRedis(), "k", 0)
	require.Error(t, err)
}

func TestNew_DisabledIsNoop(t *testing.T) {
	lock, err := New(nil, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	_, err = New(nil, config.Config{RunLock: config.RunLockConfig{Enabled: true}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
