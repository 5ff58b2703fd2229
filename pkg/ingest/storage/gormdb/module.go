package gormdb

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// NewGormDBProvider opens the connection from the application configuration
// and closes it on shutdown.
func NewGormDBProvider(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Shoreline.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			logger.Infof("Closing DB connection")
			return sqlDB.Close()
		},
	})
	return db, nil
}

// Module provides the GORM connection to Fx.
var Module = fx.Options(
	fx.Provide(NewGormDBProvider),
)
