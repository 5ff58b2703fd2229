package tracker

import (
	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
)

// NewTrackerProvider builds the Tracker from the engine configuration.
func NewTrackerProvider(engineCfg *config.EngineConfig, clk clock.Clock) *Tracker {
	return New(engineCfg.MaxRetries, clk)
}

// Module provides the Tracker to Fx.
var Module = fx.Options(
	fx.Provide(NewTrackerProvider),
)
