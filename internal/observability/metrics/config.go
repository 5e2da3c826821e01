package metrics

import "github.com/smallbiznis/installments/internal/config"

// Config sets the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

func ConfigFromApp(cfg config.Config) Config {
	return Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}
}
