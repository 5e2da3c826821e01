package logger

import (
	"context"

	"github.com/smallbiznis/installments/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewFromConfig creates the service logger tagged with app name and environment.
func NewFromConfig(cfg config.Config) (*zap.Logger, error) {
	log, err := New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.With(
		zap.String("service", cfg.AppName),
		zap.String("env", cfg.Environment),
	), nil
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
}

var Module = fx.Module("logger",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)
