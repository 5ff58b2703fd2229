// Package processor executes one batch of records through the configured
// stage sequence: delta-detected ingestion writes, model transformations,
// per-stage retries with linear backoff, and a single commit per batch.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/core/stage"
	"github.com/tigerroll/shoreline/pkg/ingest/core/tracker"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

const moduleName = "processor"

// Processor runs batches through the compiled stage graph. It owns no state
// of its own between batches; all transaction state lives in the Tracker.
type Processor struct {
	graph    *config.CompiledGraph
	registry *stage.Registry
	store    port.Store
	tracker  *tracker.Tracker
	clk      clock.Clock
	metrics  port.MetricRecorder

	workers       int
	retryBaseWait time.Duration
}

// New creates a Processor.
func New(
	graph *config.CompiledGraph,
	registry *stage.Registry,
	store port.Store,
	tr *tracker.Tracker,
	clk clock.Clock,
	metrics port.MetricRecorder,
	engineCfg *config.EngineConfig,
) *Processor {
	workers := engineCfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		graph:         graph,
		registry:      registry,
		store:         store,
		tracker:       tr,
		clk:           clk,
		metrics:       metrics,
		workers:       workers,
		retryBaseWait: time.Duration(engineCfg.RetryBaseDelayMs) * time.Millisecond,
	}
}

// batchCounters tallies delta outcomes across a batch's workers.
type batchCounters struct {
	mu       sync.Mutex
	inserted int
	updated  int
	skipped  int
}

func (c *batchCounters) count(op model.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch op {
	case model.OpInsert:
		c.inserted++
	case model.OpUpdate:
		c.updated++
	case model.OpSkip:
		c.skipped++
	}
}

// ProcessBatch runs the given keys of the dataset through the full stage
// sequence inside one storage transaction. Per-record failures are absorbed
// into the batch result; the returned error is non-nil only when the batch as
// a whole could not run (transaction open or commit failure), and even then
// the result reflects every record's final state.
func (p *Processor) ProcessBatch(ctx context.Context, runID string, ds *model.Dataset, keys []string) (model.BatchResult, error) {
	rows := make(map[string]model.RowData, len(keys))
	for _, key := range keys {
		rows[key] = ds.MainRows[key]
	}

	if _, err := p.tracker.StartBatch(runID, rows); err != nil {
		return model.BatchResult{}, err
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		beginErr := exception.NewTransientError(moduleName, "failed to open storage transaction", err)
		for _, key := range keys {
			if ferr := p.tracker.FailRecord(key, "begin", beginErr); ferr != nil {
				logger.Errorf("failed to mark record '%s' failed: %v", key, ferr)
			}
		}
		res, cerr := p.tracker.CompleteBatch()
		if cerr != nil {
			return res, cerr
		}
		p.recordBatchMetrics(res)
		return res, beginErr
	}

	counters := &batchCounters{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			// A record failure never aborts its batch; the error is already
			// folded into the tracker state. A panic in stage code costs the
			// record, not the process.
			defer func() {
				if r := recover(); r != nil {
					panicErr := exception.NewPermanentError(moduleName, fmt.Sprintf("panic while processing record: %v", r), nil)
					logger.Errorf("record '%s': %v", key, panicErr)
					if ferr := p.tracker.FailRecord(key, "panic", panicErr); ferr != nil {
						logger.Errorf("failed to mark record '%s' failed after panic: %v", key, ferr)
					}
				}
			}()
			p.processRecord(gctx, tx, runID, ds, key, counters)
			return nil
		})
	}
	_ = g.Wait()

	var commitErr error
	if prog := p.tracker.Progress(); prog.Completed == 0 {
		// Nothing succeeded; there is nothing worth committing.
		if rerr := tx.Rollback(); rerr != nil {
			logger.Warnf("rollback of empty batch: %v", rerr)
		}
	} else if err := tx.Commit(); err != nil {
		commitErr = exception.NewPermanentError(moduleName, "batch commit failed",
			fmt.Errorf("%w: %v", exception.ErrCommitFailed, err))
		demoted, derr := p.tracker.DemoteSuccessful(commitErr)
		if derr != nil {
			logger.Errorf("failed to demote records after commit failure: %v", derr)
		}
		logger.Errorf("batch commit failed, demoted %d record(s): %v", len(demoted), err)
		if rerr := tx.Rollback(); rerr != nil {
			logger.Warnf("rollback after failed commit: %v", rerr)
		}
	}

	res, err := p.tracker.CompleteBatch()
	if err != nil {
		return res, err
	}
	if commitErr == nil {
		counters.mu.Lock()
		res.InsertedCount = counters.inserted
		res.UpdatedCount = counters.updated
		res.SkippedCount = counters.skipped
		counters.mu.Unlock()
	}
	p.recordBatchMetrics(res)
	return res, commitErr
}

func (p *Processor) recordBatchMetrics(res model.BatchResult) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordBatch(res)
	p.metrics.ObserveBatchDuration(float64(res.DurationMs) / 1000.0)
}

// processRecord runs one record through every stage. All outcomes, success
// or failure, end up in the tracker; this function never returns an error.
func (p *Processor) processRecord(ctx context.Context, tx port.StoreTx, runID string, ds *model.Dataset, key string, counters *batchCounters) {
	if err := p.tracker.StartRecord(key); err != nil {
		logger.Errorf("failed to start record '%s': %v", key, err)
		return
	}

	rc := newRecordContext(key, ds.MainRows[key])

	for i := range p.graph.Stages {
		st := &p.graph.Stages[i]

		if rc.skipped {
			// Unchanged records bypass every downstream stage.
			break
		}
		if !p.dependenciesMet(key, st) {
			continue
		}

		if done := p.runStageWithRetry(ctx, tx, runID, ds, rc, st); !done {
			// The stage exhausted its retries; the tracker already failed the
			// record.
			return
		}
	}

	counters.count(rc.op.Op)
	if err := p.tracker.CompleteRecord(key); err != nil {
		logger.Errorf("failed to complete record '%s': %v", key, err)
	}
}

// dependenciesMet reports whether every prerequisite stage succeeded for the
// record. Graph compilation guarantees dependencies precede the stage, so a
// miss here means the prerequisite genuinely did not run or failed.
func (p *Processor) dependenciesMet(key string, st *config.CompiledStage) bool {
	for _, depIdx := range st.DependsOn {
		dep := &p.graph.Stages[depIdx]
		if !p.tracker.StageSucceeded(key, dep.Name) {
			logger.Debugf("record '%s': skipping stage '%s', dependency '%s' did not succeed", key, st.Name, dep.Name)
			return false
		}
	}
	return true
}

// runStageWithRetry executes one stage with the tracker-driven retry loop.
// Returns true when the stage ended in success, false when the record failed.
func (p *Processor) runStageWithRetry(ctx context.Context, tx port.StoreTx, runID string, ds *model.Dataset, rc *recordContext, st *config.CompiledStage) bool {
	for {
		attempt, err := p.tracker.StartStage(rc.key, st.Name)
		if err != nil {
			logger.Errorf("record '%s': cannot start stage '%s': %v", rc.key, st.Name, err)
			return false
		}

		out, execErr := p.executeStage(ctx, tx, runID, ds, rc, st)
		if execErr == nil {
			if p.metrics != nil {
				p.metrics.RecordStageAttempt(st.Name, true)
			}
			if err := p.tracker.CompleteStage(rc.key, st.Name, out); err != nil {
				logger.Errorf("record '%s': cannot complete stage '%s': %v", rc.key, st.Name, err)
				return false
			}
			return true
		}

		if p.metrics != nil {
			p.metrics.RecordStageAttempt(st.Name, false)
		}
		retry, err := p.tracker.FailStage(rc.key, st.Name, execErr)
		if err != nil {
			logger.Errorf("record '%s': cannot fail stage '%s': %v", rc.key, st.Name, err)
			return false
		}
		if !retry {
			logger.Warnf("record '%s': stage '%s' failed permanently after %d attempt(s): %v",
				rc.key, st.Name, attempt, execErr)
			return false
		}

		if p.metrics != nil {
			p.metrics.RecordRetry(st.Name)
		}
		delay := p.retryBaseWait * time.Duration(attempt)
		logger.Debugf("record '%s': retrying stage '%s' (attempt %d failed) after %s: %v",
			rc.key, st.Name, attempt, delay, execErr)
		if err := p.clk.Sleep(ctx, delay); err != nil {
			// The run is being cancelled; fail the record rather than retry
			// against a dead context.
			if _, ferr := p.tracker.FailStage(rc.key, st.Name, exception.NewPermanentError(moduleName, "run cancelled during retry backoff", err)); ferr != nil {
				logger.Errorf("record '%s': cannot fail stage '%s' on cancellation: %v", rc.key, st.Name, ferr)
			}
			return false
		}
	}
}

// executeStage dispatches on the compiled stage type.
func (p *Processor) executeStage(ctx context.Context, tx port.StoreTx, runID string, ds *model.Dataset, rc *recordContext, st *config.CompiledStage) (model.RowData, error) {
	switch st.Type {
	case config.StageTypeIngestion:
		return nil, p.executeIngestion(ctx, tx, runID, ds, rc, st)
	case config.StageTypeModel:
		return p.executeModel(ctx, tx, runID, rc, st)
	default:
		// Compilation rejects unknown types; reaching this is a bug.
		return nil, exception.NewPermanentError(moduleName,
			fmt.Sprintf("stage '%s' has unresolvable type", st.Name), exception.ErrUnknownStageType)
	}
}

// executeIngestion performs delta detection and, for inserts and updates,
// writes the new version and replaces dependent rows. A skip outcome
// short-circuits the rest of the record's stages.
func (p *Processor) executeIngestion(ctx context.Context, tx port.StoreTx, runID string, ds *model.Dataset, rc *recordContext, st *config.CompiledStage) error {
	src := p.graph.SourceFor(st)
	if src == nil {
		return exception.NewPermanentError(moduleName,
			fmt.Sprintf("ingestion stage '%s' has no source", st.Name), nil)
	}

	if rc.row == nil {
		return exception.NewPermanentError(moduleName,
			fmt.Sprintf("record '%s' has no row in dataset '%s'", rc.key, ds.Source), exception.ErrMissingRequiredField)
	}
	if _, ok := rc.row[src.KeyColumn]; !ok {
		return exception.NewPermanentError(moduleName,
			fmt.Sprintf("record '%s' is missing key column '%s'", rc.key, src.KeyColumn), exception.ErrMissingRequiredField)
	}
	if _, ok := rc.row[src.ChangeTimestampColumn]; !ok {
		return exception.NewPermanentError(moduleName,
			fmt.Sprintf("record '%s' is missing change timestamp column '%s'", rc.key, src.ChangeTimestampColumn), exception.ErrMissingRequiredField)
	}

	delta, err := tx.DetectDelta(ctx, src.Table, src.KeyColumn, src.ChangeTimestampColumn, rc.key, rc.row)
	if err != nil {
		return err
	}
	rc.op = delta

	if delta.Op == model.OpSkip {
		rc.skipped = true
		logger.Debugf("record '%s': unchanged, skipping downstream stages", rc.key)
		return nil
	}

	versionID, err := tx.CreateVersion(ctx, src.Table, src.KeyColumn, rc.key, rc.row, delta, runID)
	if err != nil {
		return err
	}

	for _, dep := range src.Dependents {
		depRows := ds.DependentsFor(dep.Table, rc.key)
		if err := tx.ReplaceDependents(ctx, dep.Table, rc.key, versionID, depRows); err != nil {
			return err
		}
	}
	return nil
}

// executeModel resolves the registered function and runs it over the record's
// input columns, persisting the output through the transaction. A stage that
// declares a source consumes that stage's output instead of the main row.
func (p *Processor) executeModel(ctx context.Context, tx port.StoreTx, runID string, rc *recordContext, st *config.CompiledStage) (model.RowData, error) {
	fn, err := p.registry.Resolve(st.Model.Function)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName,
			fmt.Sprintf("stage '%s'", st.Name), err)
	}

	var input model.RowData
	if st.ModelSourceIndex >= 0 {
		srcStage := &p.graph.Stages[st.ModelSourceIndex]
		srcOut, ok := p.tracker.StageResult(rc.key, srcStage.Name)
		if !ok {
			return nil, exception.NewPermanentError(moduleName,
				fmt.Sprintf("stage '%s' consumes output of '%s', which produced none for record '%s'",
					st.Name, srcStage.Name, rc.key), nil)
		}
		input = restrictColumns(srcOut, st.Model.InputColumns)
	} else {
		input = rc.inputFor(st.Model.InputColumns)
	}

	out, err := fn(input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		// Nothing to store; downstream stages see no output from this one.
		logger.Debugf("record '%s': model stage '%s' produced no output", rc.key, st.Name)
		return nil, nil
	}

	if err := tx.SaveStageOutput(ctx, st.Name, rc.key, out, runID); err != nil {
		return nil, err
	}
	rc.outputs[st.Name] = out
	return out, nil
}
