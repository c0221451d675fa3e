package observability

import (
	"github.com/recurhq/recur/internal/observability/logger"
	"github.com/recurhq/recur/internal/observability/metrics"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideMetricsConfig,
		metrics.NewHTTPMetrics,
		provideGormLogger,
	),
	fx.Invoke(ensureMetrics),
)

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}

func provideGormLogger(cfg Config) gormlogger.Interface {
	gormCfg := logger.DefaultGormLoggerConfig()
	if cfg.Debug() {
		gormCfg.Level = gormlogger.Info
	}
	return logger.NewGormLogger(gormCfg)
}

func ensureMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
	metrics.EngineWithConfig(cfg)
}
