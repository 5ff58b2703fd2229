package orchestrator

import (
	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/core/processor"
	"github.com/tigerroll/shoreline/pkg/ingest/core/tracker"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
)

// Params defines the dependencies for NewOrchestratorProvider. Notifier and
// Tracer are optional; the orchestrator runs without them.
type Params struct {
	fx.In
	Processor   *processor.Processor
	Tracker     *tracker.Tracker
	Checkpoints port.CheckpointStore
	Artifacts   ArtifactWriter
	Notifier    port.Notifier `optional:"true"`
	Tracer      Tracer        `optional:"true"`
	Clock       clock.Clock
	EngineCfg   *config.EngineConfig
}

// NewOrchestratorProvider builds the Orchestrator for Fx.
func NewOrchestratorProvider(p Params) *Orchestrator {
	return New(p.Processor, p.Tracker, p.Checkpoints, p.Artifacts, p.Notifier, p.Tracer, p.Clock, p.EngineCfg)
}

// Module provides the Orchestrator to Fx.
var Module = fx.Options(
	fx.Provide(NewOrchestratorProvider),
)
