// Package migration applies the engine's fixed schema (stage outputs and
// checkpoints) with golang-migrate from embedded SQL files. The per-source
// versioned tables are created separately, since their names come from the
// pipeline configuration.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/storage/versioned"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "shoreline_schema_migrations"

// Migrator applies schema migrations to the versioned store.
type Migrator struct {
	db     *gorm.DB
	dbType string
}

// NewMigrator creates a Migrator for the given connection.
func NewMigrator(db *gorm.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: dbType}
}

// databaseDriver builds a migrate/v4 driver for the configured database type.
func (m *Migrator) databaseDriver(sqlDB *sql.DB) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "sqlite3":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	dbDriver, err := m.databaseDriver(sqlDB)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	inst, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer inst.Close()

	if err := inst.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed (DB: %s): %w", m.dbType, err)
	}
	logger.Infof("Schema migrations applied")
	return nil
}

// EnsureSourceTables creates the versioned and dependent tables of every
// configured source. Their names are configuration-driven, which rules out
// static migration files; AutoMigrate keeps them in step instead.
func (m *Migrator) EnsureSourceTables(graph *config.CompiledGraph) error {
	for _, src := range graph.Sources {
		if err := m.db.Table(src.Table).AutoMigrate(&versioned.VersionedRecord{}); err != nil {
			return fmt.Errorf("failed to migrate table '%s': %w", src.Table, err)
		}
		for _, dep := range src.Dependents {
			if err := m.db.Table(dep.Table).AutoMigrate(&versioned.DependentRecord{}); err != nil {
				return fmt.Errorf("failed to migrate dependent table '%s': %w", dep.Table, err)
			}
		}
	}
	return nil
}
