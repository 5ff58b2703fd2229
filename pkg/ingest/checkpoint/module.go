package checkpoint

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
)

// NewStoreProvider exposes the gorm-backed store through the port interface.
func NewStoreProvider(db *gorm.DB) port.CheckpointStore {
	return NewGormStore(db)
}

// Module provides the checkpoint store to Fx.
var Module = fx.Options(
	fx.Provide(NewStoreProvider),
)
