// Package port defines the interfaces through which the engine core reaches
// storage and other infrastructure. Implementations live under pkg/ingest/storage
// and pkg/ingest/artifact; the core depends only on these interfaces.
package port

import (
	"context"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// Store opens transactions against the delta-versioned store.
type Store interface {
	// Begin starts a storage transaction covering one batch.
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx is one batch-scoped storage transaction. All writes of a batch go
// through a single StoreTx and become durable together on Commit; Rollback
// discards every one of them.
type StoreTx interface {
	// DetectDelta classifies the incoming row as insert, update or skip by
	// comparing its change timestamp, normalized to a zone-free canonical
	// form, against the stored current version's. A row without a value in
	// tsColumn is rejected, never retried.
	DetectDelta(ctx context.Context, table, keyColumn, tsColumn, key string, row model.RowData) (model.Delta, error)

	// CreateVersion inserts a new current version of the record. For updates
	// the previous current version is closed out, never overwritten. It
	// returns the surrogate id of the new version row.
	CreateVersion(ctx context.Context, table, keyColumn, key string, row model.RowData, delta model.Delta, runID string) (string, error)

	// ReplaceDependents retires the current dependent rows of the parent and
	// inserts the incoming set wholesale against the new parent version. Old
	// sets are kept, marked non-current.
	ReplaceDependents(ctx context.Context, table, parentKey, parentVersionID string, rows []model.RowData) error

	// SaveStageOutput upserts the output row of a model stage for the record.
	SaveStageOutput(ctx context.Context, stageName, key string, output model.RowData, runID string) error

	// Commit makes every write of the batch durable.
	Commit() error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}

// CheckpointStore persists run checkpoints so an interrupted run can resume
// from its last committed batch.
type CheckpointStore interface {
	Save(ctx context.Context, cp model.Checkpoint) error
	// Load returns the checkpoint of the run, or found=false when the run has
	// never committed a batch.
	Load(ctx context.Context, runID string) (cp model.Checkpoint, found bool, err error)
	// Clear removes the checkpoint once the run has finished.
	Clear(ctx context.Context, runID string) error
}

// ArtifactStore persists failure artifacts. Put returns the location the
// artifact was written to.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Notifier delivers run lifecycle and progress notifications.
type Notifier interface {
	RunStarted(ctx context.Context, runID string, totalRecords int)
	// RunProgress fires after every batch with the share of records processed
	// so far.
	RunProgress(ctx context.Context, runID string, description string, percentComplete float64, stats model.RunStats)
	RunFinished(ctx context.Context, runID string, stats model.RunStats)
	RunFailed(ctx context.Context, runID string, err error)
}

// MetricRecorder records engine counters and timings. Implementations must be
// safe for concurrent use.
type MetricRecorder interface {
	RecordBatch(result model.BatchResult)
	RecordStageAttempt(stageName string, success bool)
	RecordRetry(stageName string)
	ObserveBatchDuration(seconds float64)
}
