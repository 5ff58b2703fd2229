package gormdb

import (
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
)

// init registers the dialector factories for every supported database type.
func init() {
	RegisterDialector("sqlite3", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.DSN == "" {
			return nil, errors.New("sqlite DSN cannot be empty")
		}
		return sqlite.Open(cfg.DSN), nil
	})
	RegisterDialector("postgres", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.DSN == "" {
			return nil, errors.New("postgres DSN cannot be empty")
		}
		return postgres.Open(cfg.DSN), nil
	})
	RegisterDialector("mysql", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.DSN == "" {
			return nil, errors.New("mysql DSN cannot be empty")
		}
		return mysql.Open(cfg.DSN), nil
	})
}
