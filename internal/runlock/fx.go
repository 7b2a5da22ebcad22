package runlock

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("runlock",
	fx.Provide(New),
)

// New returns a Redis-backed lock when RUN_LOCK_ENABLED is set, otherwise Noop.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Lock, error) {
	lockCfg := cfg.RunLock
	if !lockCfg.Enabled {
		return Noop{}, nil
	}

	addr := strings.TrimSpace(lockCfg.RedisAddr)
	if addr == "" {
		return nil, ErrNotConfigured
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(lockCfg.RedisPassword),
		DB:       lockCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	lock, err := NewRedisLock(client, lockCfg.Key, time.Duration(lockCfg.TTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	log.Info("run lock enabled", zap.String("key", lock.Key()), zap.String("redis_addr", addr))
	return lock, nil
}
