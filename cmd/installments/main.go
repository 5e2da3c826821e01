package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/installments/internal/billingoperations"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	"github.com/smallbiznis/installments/internal/dunning"
	"github.com/smallbiznis/installments/internal/forecast"
	"github.com/smallbiznis/installments/internal/installment"
	"github.com/smallbiznis/installments/internal/lock"
	"github.com/smallbiznis/installments/internal/logger"
	"github.com/smallbiznis/installments/internal/migration"
	"github.com/smallbiznis/installments/internal/observability/metrics"
	"github.com/smallbiznis/installments/internal/scheduler"
	"github.com/smallbiznis/installments/internal/server"
	"github.com/smallbiznis/installments/internal/subscription"
	"github.com/smallbiznis/installments/pkg/db"
	"github.com/smallbiznis/installments/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		metrics.Module,

		// Functional Domains
		subscription.Module,
		installment.Module,
		dunning.Module,
		billingoperations.Module,
		forecast.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
