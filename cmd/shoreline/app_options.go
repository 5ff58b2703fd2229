package main

import (
	"context"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/artifact"
	"github.com/tigerroll/shoreline/pkg/ingest/checkpoint"
	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/orchestrator"
	"github.com/tigerroll/shoreline/pkg/ingest/core/processor"
	"github.com/tigerroll/shoreline/pkg/ingest/core/stage"
	"github.com/tigerroll/shoreline/pkg/ingest/core/tracker"
	"github.com/tigerroll/shoreline/pkg/ingest/metrics"
	"github.com/tigerroll/shoreline/pkg/ingest/notification"
	"github.com/tigerroll/shoreline/pkg/ingest/storage/gormdb"
	"github.com/tigerroll/shoreline/pkg/ingest/storage/migration"
	"github.com/tigerroll/shoreline/pkg/ingest/storage/versioned"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
	"github.com/tigerroll/shoreline/pkg/ingest/tracing"
)

// GetApplicationOptions builds the uber-fx options and returns them as a
// slice. Configuration is loaded up front so the log level is set before any
// provider runs.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embedded config.EmbeddedConfig, ds *model.Dataset, opts *runOptions) []fx.Option {
	cfg, err := config.LoadConfig(envFilePath, embedded)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLogLevel(cfg.Shoreline.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Shoreline.System.Logging.Level)
	if err := cfg.Shoreline.Engine.Validate(); err != nil {
		logger.Fatalf("Invalid engine configuration: %v", err)
	}

	var options []fx.Option

	options = append(options, fx.Supply(
		cfg,
		ds,
		opts,
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
	))
	options = append(options, config.Module)
	options = append(options, clock.Module)
	options = append(options, stage.Module)
	options = append(options, tracker.Module)
	options = append(options, processor.Module)
	options = append(options, orchestrator.Module)
	options = append(options, gormdb.Module)
	options = append(options, versioned.Module)
	options = append(options, migration.Module)
	options = append(options, checkpoint.Module)
	options = append(options, artifact.Module)
	options = append(options, metrics.Module)
	options = append(options, tracing.Module)
	options = append(options, notification.Module)
	options = append(options, fx.Invoke(registerModelFunctions))
	options = append(options, fx.Invoke(fx.Annotate(startRun, fx.ParamTags("", "", "", "", "", `name:"appCtx"`))))

	return options
}

// registerModelFunctions installs the model functions the bundled pipeline
// definitions refer to. Deployments extend this set with their own.
func registerModelFunctions(reg *stage.Registry) error {
	if err := reg.Register("identity", func(row model.RowData) (model.RowData, error) {
		return row.Copy(), nil
	}); err != nil {
		return err
	}
	return reg.Register("uppercase_strings", func(row model.RowData) (model.RowData, error) {
		out := make(model.RowData, len(row))
		for k, v := range row {
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
				continue
			}
			out[k] = v
		}
		return out, nil
	})
}
