package metrics

import (
	"github.com/smallbiznis/installments/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(func(cfg config.Config) *SchedulerMetrics {
		return SchedulerWithConfig(ConfigFromApp(cfg))
	}),
	fx.Provide(func(cfg config.Config) *DunningMetrics {
		return DunningWithConfig(ConfigFromApp(cfg))
	}),
)
