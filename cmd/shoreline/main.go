package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/orchestrator"
	"github.com/tigerroll/shoreline/pkg/ingest/dataset"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// embeddedConfig holds the application YAML configuration.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// startRun kicks off the ingestion run once the app has started and requests
// shutdown when it finishes.
func startRun(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	orch *orchestrator.Orchestrator,
	ds *model.Dataset,
	opts *runOptions,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in run execution: %v", r)
					}
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				var (
					stats model.RunStats
					err   error
				)
				if opts.resumeRunID != "" {
					stats, err = orch.Resume(appCtx, opts.resumeRunID, ds)
				} else {
					stats, err = orch.Run(appCtx, ds)
				}
				if err != nil {
					logger.Errorf("Run finished with errors: %v", err)
					return
				}
				logger.Infof("Run complete: %d/%d record(s) processed, %d failed",
					stats.RecordsProcessed, stats.RecordsTotal, stats.RecordsFailed)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

// runOptions carries the command line flags into the Fx graph.
type runOptions struct {
	snapshotPath string
	resumeRunID  string
}

func main() {
	snapshotPath := flag.String("snapshot", "", "path to the parsed snapshot JSON file")
	resumeRunID := flag.String("resume", "", "run id to resume instead of starting a new run")
	flag.Parse()

	if *snapshotPath == "" {
		logger.Fatalf("missing required -snapshot flag")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the run...", sig)
		cancel()
	}()

	ds, err := dataset.LoadFile(*snapshotPath)
	if err != nil {
		logger.Fatalf("Failed to load snapshot: %v", err)
	}
	logger.Infof("Loaded snapshot for source '%s': %d record(s)", ds.Source, len(ds.MainRows))

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	opts := &runOptions{snapshotPath: *snapshotPath, resumeRunID: *resumeRunID}

	fxApp := fx.New(GetApplicationOptions(ctx, envFilePath, embeddedConfig, ds, opts)...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
}
