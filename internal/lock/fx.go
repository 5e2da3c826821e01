package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/installments/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLocker uses redis when REDIS_ADDR is set and an in-process mutex otherwise.
func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Info("using in-process installment locks")
		return NewMemoryLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis installment locks", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client, 30*time.Second, 5*time.Second, log)
}

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)
