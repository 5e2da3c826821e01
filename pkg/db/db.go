package db

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/installments/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

const poolStatsRefreshSeconds = 15

// Open connects and applies the pool settings.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}
	return conn, nil
}

// NewTest opens an isolated in-memory database named after the test.
// A single connection keeps the shared-cache database alive and avoids
// table lock errors between concurrent callers.
func NewTest(name string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

// Instrument traces every query through tp and publishes the pool stats on
// the default prometheus registry served at /metrics.
func Instrument(conn *gorm.DB, dbName string, tp trace.TracerProvider) error {
	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithTracerProvider(tp),
		otelgorm.WithDBName(dbName),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return err
	}
	return conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          dbName,
		RefreshInterval: poolStatsRefreshSeconds,
		Labels:          map[string]string{},
	}))
}

func provide(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, tp trace.TracerProvider) (*gorm.DB, error) {
	conn, err := Open(ConfigFromApp(cfg))
	if err != nil {
		return nil, err
	}
	if err := Instrument(conn, cfg.DBName, tp); err != nil {
		return nil, err
	}
	log.Info("database connected", zap.String("type", cfg.DBType))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(provide),
)
