package migration

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
)

// NewMigratorProvider builds the Migrator from the application configuration.
func NewMigratorProvider(db *gorm.DB, cfg *config.Config) *Migrator {
	return NewMigrator(db, cfg.Shoreline.Database.Type)
}

// RunMigrations applies the fixed schema and the per-source tables on
// startup when auto_migrate is enabled.
func RunMigrations(lc fx.Lifecycle, m *Migrator, cfg *config.Config, graph *config.CompiledGraph) {
	if !cfg.Shoreline.Database.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.Up(ctx); err != nil {
				return err
			}
			return m.EnsureSourceTables(graph)
		},
	})
}

// Module provides the Migrator to Fx and wires the startup hook.
var Module = fx.Options(
	fx.Provide(NewMigratorProvider),
	fx.Invoke(RunMigrations),
)
