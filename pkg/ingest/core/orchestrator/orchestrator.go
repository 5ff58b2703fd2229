// Package orchestrator drives a full ingestion run: it partitions the
// dataset into batches, feeds them to the processor, persists checkpoints
// after every committed batch, reports progress, and writes the failure
// artifact once the run is over.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/core/processor"
	"github.com/tigerroll/shoreline/pkg/ingest/core/tracker"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

const moduleName = "orchestrator"

// ArtifactWriter serializes and stores the failure artifact of a run.
type ArtifactWriter interface {
	WriteFailure(ctx context.Context, art model.FailureArtifact) (string, error)
}

// Tracer opens spans around runs and batches. The returned func closes the
// span, recording the error if non-nil.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, func(err error))
}

// Orchestrator coordinates one run at a time over a parsed dataset.
type Orchestrator struct {
	proc        *processor.Processor
	tracker     *tracker.Tracker
	checkpoints port.CheckpointStore
	artifacts   ArtifactWriter
	notifier    port.Notifier
	tracer      Tracer
	clk         clock.Clock

	batchSize        int
	progressInterval int
}

// New creates an Orchestrator. notifier and tracer may be nil.
func New(
	proc *processor.Processor,
	tr *tracker.Tracker,
	checkpoints port.CheckpointStore,
	artifacts ArtifactWriter,
	notifier port.Notifier,
	tracer Tracer,
	clk clock.Clock,
	engineCfg *config.EngineConfig,
) *Orchestrator {
	return &Orchestrator{
		proc:             proc,
		tracker:          tr,
		checkpoints:      checkpoints,
		artifacts:        artifacts,
		notifier:         notifier,
		tracer:           tracer,
		clk:              clk,
		batchSize:        engineCfg.BatchSize,
		progressInterval: engineCfg.ProgressIntervalRecords,
	}
}

// Run processes the whole dataset as a new run and returns its statistics.
// Per-record and even per-batch failures do not abort the run; the returned
// error aggregates batch-level failures that occurred along the way.
func (o *Orchestrator) Run(ctx context.Context, ds *model.Dataset) (model.RunStats, error) {
	runID := model.NewID()
	keys := sortedKeys(ds)
	return o.run(ctx, runID, ds, keys, o.batchSize, 0)
}

// Resume continues an interrupted run from its checkpoint. Records at or
// before the last committed key are never reprocessed; the remainder runs
// with batch size 1 so each record commits individually. Without a checkpoint
// the run starts over from the beginning under the same id.
func (o *Orchestrator) Resume(ctx context.Context, runID string, ds *model.Dataset) (model.RunStats, error) {
	keys := sortedKeys(ds)
	batchSize := 1
	startBatch := 0

	cp, found, err := o.checkpoints.Load(ctx, runID)
	if err != nil {
		return model.RunStats{}, exception.NewTransientError(moduleName, "failed to load checkpoint", err)
	}
	if found {
		idx := sort.SearchStrings(keys, cp.LastCommittedKey)
		if idx < len(keys) && keys[idx] == cp.LastCommittedKey {
			idx++
		}
		keys = keys[idx:]
		startBatch = cp.BatchIndex + 1
		logger.Infof("run %s: resuming after key '%s', %d record(s) remaining", runID, cp.LastCommittedKey, len(keys))
	} else {
		logger.Infof("run %s: no checkpoint found, starting from the beginning", runID)
		batchSize = o.batchSize
	}

	return o.run(ctx, runID, ds, keys, batchSize, startBatch)
}

func (o *Orchestrator) run(ctx context.Context, runID string, ds *model.Dataset, keys []string, batchSize, startBatchIndex int) (model.RunStats, error) {
	finishSpan := func(error) {}
	if o.tracer != nil {
		ctx, finishSpan = o.tracer.Start(ctx, "ingest.run")
	}

	start := o.clk.Now()
	batches := partition(keys, batchSize)
	stats := model.RunStats{
		RecordsTotal: len(keys),
		BatchesTotal: len(batches),
	}

	logger.Infof("run %s: starting over source '%s': %d record(s) in %d batch(es)",
		runID, ds.Source, stats.RecordsTotal, stats.BatchesTotal)
	if o.notifier != nil {
		o.notifier.RunStarted(ctx, runID, stats.RecordsTotal)
	}

	var runErrs *multierror.Error
	lastProgressReport := 0

	for i, batchKeys := range batches {
		if err := ctx.Err(); err != nil {
			runErrs = multierror.Append(runErrs, exception.NewPermanentError(moduleName, "run cancelled", err))
			break
		}

		batchIndex := startBatchIndex + i
		res, err := o.runBatch(ctx, runID, ds, batchKeys)
		if err != nil {
			logger.Errorf("run %s: batch %d failed: %v", runID, batchIndex, err)
			runErrs = multierror.Append(runErrs, err)
		}

		stats.RecordsProcessed += res.SuccessCount + res.FailedCount
		stats.RecordsInserted += res.InsertedCount
		stats.RecordsUpdated += res.UpdatedCount
		stats.RecordsSkipped += res.SkippedCount
		stats.RecordsFailed += res.FailedCount
		stats.BatchesCompleted++

		// The checkpoint only moves when the batch actually committed.
		if err == nil && len(batchKeys) > 0 {
			cp := model.Checkpoint{
				RunID:            runID,
				Source:           ds.Source,
				LastCommittedKey: batchKeys[len(batchKeys)-1],
				BatchIndex:       batchIndex,
				UpdatedAt:        o.clk.Now(),
			}
			if cerr := o.checkpoints.Save(ctx, cp); cerr != nil {
				logger.Warnf("run %s: failed to save checkpoint after batch %d: %v", runID, batchIndex, cerr)
			}
		}

		if o.notifier != nil {
			percent := 100.0
			if stats.RecordsTotal > 0 {
				percent = float64(stats.RecordsProcessed) / float64(stats.RecordsTotal) * 100.0
			}
			o.notifier.RunProgress(ctx, runID, fmt.Sprintf("batch %d/%d", i+1, len(batches)), percent, stats)
		}

		if stats.RecordsProcessed-lastProgressReport >= o.progressInterval || batchIndex == startBatchIndex+len(batches)-1 {
			lastProgressReport = stats.RecordsProcessed
			p := o.tracker.Progress()
			logger.Infof("run %s: %d/%d record(s) processed (%d ok, %d failed)",
				runID, stats.RecordsProcessed, stats.RecordsTotal,
				p.CumulativeCompleted, p.CumulativeFailed)
		}
	}

	stats.DurationSeconds = o.clk.Now().Sub(start).Seconds()

	if err := o.writeFailureArtifact(ctx, runID); err != nil {
		runErrs = multierror.Append(runErrs, err)
	}

	runErr := runErrs.ErrorOrNil()

	// A cancelled or failed run keeps its checkpoint so Resume can pick up
	// from the last committed key.
	if runErr == nil {
		if cerr := o.checkpoints.Clear(ctx, runID); cerr != nil {
			logger.Warnf("run %s: failed to clear checkpoint: %v", runID, cerr)
		}
	}
	if o.notifier != nil {
		if runErr != nil {
			o.notifier.RunFailed(ctx, runID, runErr)
		} else {
			o.notifier.RunFinished(ctx, runID, stats)
		}
	}
	logger.Infof("run %s: finished in %.2fs: %d inserted, %d updated, %d skipped, %d failed",
		runID, stats.DurationSeconds, stats.RecordsInserted, stats.RecordsUpdated,
		stats.RecordsSkipped, stats.RecordsFailed)

	finishSpan(runErr)
	return stats, runErr
}

// runBatch runs one batch with panic containment. The processor already
// contains panics inside stage code per record; this recover is the backstop
// for panics outside the worker pool, which cost the batch but never the run.
func (o *Orchestrator) runBatch(ctx context.Context, runID string, ds *model.Dataset, keys []string) (res model.BatchResult, err error) {
	finishSpan := func(error) {}
	if o.tracer != nil {
		ctx, finishSpan = o.tracer.Start(ctx, "ingest.batch")
	}
	defer func() {
		if r := recover(); r != nil {
			panicErr := exception.NewPermanentError(moduleName, fmt.Sprintf("panic during batch: %v", r), nil)
			logger.Errorf("run %s: %v", runID, panicErr)
			for _, key := range keys {
				if ferr := o.tracker.FailRecord(key, "batch", panicErr); ferr != nil {
					logger.Debugf("run %s: could not record failure for '%s': %v", runID, key, ferr)
				}
			}
			if done, cerr := o.tracker.CompleteBatch(); cerr == nil {
				res = done
			} else {
				res = model.BatchResult{FailedCount: len(keys), FailedKeys: keys}
			}
			err = panicErr
		}
		finishSpan(err)
	}()

	res, err = o.proc.ProcessBatch(ctx, runID, ds, keys)
	return res, err
}

// writeFailureArtifact serializes the accumulated failure records. No
// failures means no artifact.
func (o *Orchestrator) writeFailureArtifact(ctx context.Context, runID string) error {
	failures := o.tracker.FailureRecords()
	if len(failures) == 0 {
		return nil
	}
	art := model.FailureArtifact{
		RunID:       runID,
		GeneratedAt: o.clk.Now(),
		TotalFailed: len(failures),
		Records:     failures,
	}
	loc, err := o.artifacts.WriteFailure(ctx, art)
	if err != nil {
		return exception.NewTransientError(moduleName, "failed to write failure artifact", err)
	}
	logger.Warnf("run %s: %d record(s) failed permanently, artifact written to %s", runID, len(failures), loc)
	return nil
}

// sortedKeys returns the dataset's business keys in lexicographic order.
// Deterministic ordering is what makes the checkpoint cursor meaningful.
func sortedKeys(ds *model.Dataset) []string {
	keys := make([]string, 0, len(ds.MainRows))
	for k := range ds.MainRows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// partition splits keys into consecutive slices of at most size elements.
func partition(keys []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for len(keys) > 0 {
		n := size
		if n > len(keys) {
			n = len(keys)
		}
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}
