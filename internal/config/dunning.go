package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MaxForecastMonths bounds every projection and analysis horizon.
const MaxForecastMonths = 120

// DunningConfig tunes retries and forecasting defaults. It is hot reloaded.
type DunningConfig struct {
	RetryDelay               time.Duration `mapstructure:"retryDelay"`
	RetrySuccessProbability  float64       `mapstructure:"retrySuccessProbability"`
	MaxRetryAttempts         int           `mapstructure:"maxRetryAttempts"`
	AtRiskWindowDays         int           `mapstructure:"atRiskWindowDays"`
	ProjectionMonths         int           `mapstructure:"projectionMonths"`
	AnalysisMonths           int           `mapstructure:"analysisMonths"`
	InstallmentLookaheadDays int           `mapstructure:"installmentLookaheadDays"`
}

func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		RetryDelay:               72 * time.Hour,
		RetrySuccessProbability:  0.7,
		MaxRetryAttempts:         4,
		AtRiskWindowDays:         7,
		ProjectionMonths:         12,
		AnalysisMonths:           6,
		InstallmentLookaheadDays: 30,
	}
}

type DunningConfigHolder struct {
	current atomic.Value // holds DunningConfig
}

// NewStaticDunningConfigHolder returns a holder that never reloads.
func NewStaticDunningConfigHolder(cfg DunningConfig) *DunningConfigHolder {
	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDunningConfigHolder(log *zap.Logger) (*DunningConfigHolder, error) {
	v := viper.New()
	v.SetConfigName("dunning")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/installments")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INSTALLMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return loadDunningConfig(v, log)
}

// NewDunningConfigHolderFromFile reads an explicit config file and watches it.
func NewDunningConfigHolderFromFile(path string, log *zap.Logger) (*DunningConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadDunningConfig(v, log)
}

func loadDunningConfig(v *viper.Viper, log *zap.Logger) (*DunningConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("dunning.config")

	setDunningDefaults(v)
	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeDunningConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateDunningConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticDunningConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeDunningConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateDunningConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

// decodeDunningConfig goes through AllSettings so defaults fill keys the file omits.
func decodeDunningConfig(v *viper.Viper) (DunningConfig, error) {
	var wrapper struct {
		Dunning DunningConfig `mapstructure:"dunning"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return DunningConfig{}, err
	}
	return wrapper.Dunning, nil
}

func setDunningDefaults(v *viper.Viper) {
	d := DefaultDunningConfig()
	v.SetDefault("dunning.retryDelay", d.RetryDelay)
	v.SetDefault("dunning.retrySuccessProbability", d.RetrySuccessProbability)
	v.SetDefault("dunning.maxRetryAttempts", d.MaxRetryAttempts)
	v.SetDefault("dunning.atRiskWindowDays", d.AtRiskWindowDays)
	v.SetDefault("dunning.projectionMonths", d.ProjectionMonths)
	v.SetDefault("dunning.analysisMonths", d.AnalysisMonths)
	v.SetDefault("dunning.installmentLookaheadDays", d.InstallmentLookaheadDays)
}

func (h *DunningConfigHolder) Get() DunningConfig {
	if h == nil {
		return DefaultDunningConfig()
	}
	return h.current.Load().(DunningConfig)
}

func validateDunningConfig(cfg DunningConfig) error {
	if cfg.RetryDelay <= 0 {
		return errors.New("dunning.retryDelay must be positive")
	}
	if cfg.RetrySuccessProbability < 0 || cfg.RetrySuccessProbability > 1 {
		return errors.New("dunning.retrySuccessProbability must be within [0,1]")
	}
	if cfg.MaxRetryAttempts <= 0 {
		return errors.New("dunning.maxRetryAttempts must be positive")
	}
	if cfg.AtRiskWindowDays < 0 {
		return errors.New("dunning.atRiskWindowDays cannot be negative")
	}
	if cfg.ProjectionMonths <= 0 || cfg.AnalysisMonths <= 0 {
		return errors.New("dunning.projectionMonths and dunning.analysisMonths must be positive")
	}
	if cfg.ProjectionMonths > MaxForecastMonths || cfg.AnalysisMonths > MaxForecastMonths {
		return errors.New("dunning.projectionMonths and dunning.analysisMonths cannot exceed 120")
	}
	if cfg.InstallmentLookaheadDays < 0 {
		return errors.New("dunning.installmentLookaheadDays cannot be negative")
	}
	return nil
}
