package db

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

type Params struct {
	fx.In

	Config     Config
	Log        *zap.Logger
	GormLogger gormlogger.Interface `optional:"true"`
}

// Open connects to the configured database and tunes the pool.
func Open(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		TranslateError: true,
	}
	if p.GormLogger != nil {
		gormCfg.Logger = p.GormLogger
	} else {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(p.Config.maxIdleConn())
	sqlDB.SetMaxOpenConns(p.Config.maxOpenConn())
	sqlDB.SetConnMaxLifetime(p.Config.connMaxLifetime())
	sqlDB.SetConnMaxIdleTime(p.Config.connMaxIdleTime())

	if p.Config.Type == "postgres" || p.Config.Type == "mysql" {
		if err := gdb.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          p.Config.Name,
			RefreshInterval: 15,
		})); err != nil {
			p.Log.Warn("failed to register db pool metrics", zap.Error(err))
		}
	}

	p.Log.Info("database connected",
		zap.String("type", p.Config.Type),
		zap.String("host", p.Config.Host),
		zap.String("name", p.Config.Name),
	)
	return gdb, nil
}

func registerClose(lc fx.Lifecycle, gdb *gorm.DB, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.Close(); err != nil {
				log.Warn("failed to close database", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

var Module = fx.Module("db",
	fx.Provide(Open),
	fx.Invoke(registerClose),
)
