package tracing

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/orchestrator"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// NewOrchestratorTracerProvider builds the orchestrator's Tracer when tracing
// is enabled, flushing spans on shutdown. Disabled tracing provides nil,
// which the orchestrator treats as "no spans".
func NewOrchestratorTracerProvider(lc fx.Lifecycle, cfg *config.Config) (orchestrator.Tracer, error) {
	tc := cfg.Shoreline.Tracing
	if !tc.Enabled {
		return nil, nil
	}

	tp, tracer, err := NewTracerProvider(context.Background(), tc.Endpoint, tc.ServiceName)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Flushing trace spans")
			return tp.Shutdown(ctx)
		},
	})
	return NewOtelTracer(tracer), nil
}

// Module provides the tracer to Fx.
var Module = fx.Options(
	fx.Provide(NewOrchestratorTracerProvider),
)
