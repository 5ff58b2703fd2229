package versioned

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
)

// NewStoreProvider builds the versioned Store for Fx and exposes it through
// the port interface the engine core consumes.
func NewStoreProvider(db *gorm.DB, clk clock.Clock) port.Store {
	return NewStore(db, clk)
}

// Module provides the versioned store to Fx.
var Module = fx.Options(
	fx.Provide(NewStoreProvider),
)
