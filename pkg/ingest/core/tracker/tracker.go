// Package tracker maintains the in-memory transaction state of a run: one
// BatchTransaction at a time, each holding per-record and per-stage state.
// The tracker owns every state transition and the retry decision; the
// processor asks it what to do, it never mutates records directly.
package tracker

import (
	"fmt"
	"sync"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

const moduleName = "tracker"

// Tracker tracks one active batch plus cumulative counters and the failure
// records accumulated across the whole run. All methods are safe for
// concurrent use; the processor's workers call into a shared Tracker.
type Tracker struct {
	mu         sync.Mutex
	maxRetries int
	clk        clock.Clock

	batch               *model.BatchTransaction
	cumulativeCompleted int
	cumulativeFailed    int
	failures            []model.FailureRecord
}

// New creates a Tracker. maxRetries is the total number of attempts allowed
// per stage per record, including the first.
func New(maxRetries int, clk clock.Clock) *Tracker {
	return &Tracker{maxRetries: maxRetries, clk: clk}
}

// StartBatch opens a new BatchTransaction over the given rows. The previous
// batch must have been completed first; the tracker holds at most one batch,
// which is what keeps its memory bounded by the batch size rather than the
// snapshot size.
func (t *Tracker) StartBatch(runID string, rows map[string]model.RowData) (*model.BatchTransaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch != nil {
		return nil, exception.NewPermanentError(moduleName, "a batch is already active", nil)
	}

	now := t.clk.Now()
	bt := &model.BatchTransaction{
		ID:        model.NewID(),
		RunID:     runID,
		Records:   make(map[string]*model.RecordTransaction, len(rows)),
		StartTime: now,
	}
	for key, row := range rows {
		bt.Records[key] = model.NewRecordTransaction(key, row, now)
	}
	t.batch = bt
	return bt, nil
}

// StartRecord marks a record as processing.
func (t *Tracker) StartRecord(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return err
	}
	return rt.TransitionTo(model.RecordStatusProcessing)
}

// StartStage marks a stage attempt as running and returns the attempt number,
// starting at 1.
func (t *Tracker) StartStage(key, stageName string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return 0, err
	}
	st := rt.Stage(stageName)
	if err := st.TransitionTo(model.StageStatusRunning); err != nil {
		return 0, err
	}
	st.Attempts++
	if st.StartTime == nil {
		now := t.clk.Now()
		st.StartTime = &now
	}
	return st.Attempts, nil
}

// CompleteStage marks a stage attempt as successful and stores its output for
// downstream stages.
func (t *Tracker) CompleteStage(key, stageName string, result model.RowData) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return err
	}
	st := rt.Stage(stageName)
	if err := st.TransitionTo(model.StageStatusSuccess); err != nil {
		return err
	}
	st.Result = result
	now := t.clk.Now()
	st.EndTime = &now
	return nil
}

// FailStage records a failed stage attempt and decides whether to retry.
// A transient cause with attempts remaining moves the stage to RETRYING and
// returns true; otherwise the stage and the whole record fail permanently.
func (t *Tracker) FailStage(key, stageName string, cause error) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return false, err
	}
	st := rt.Stage(stageName)
	st.LastError = exception.ExtractErrorMessage(cause)

	if exception.IsRetryable(cause) && st.Attempts < t.maxRetries {
		if err := st.TransitionTo(model.StageStatusRetrying); err != nil {
			return false, err
		}
		rt.RetryCount++
		return true, nil
	}

	if err := st.TransitionTo(model.StageStatusFailed); err != nil {
		return false, err
	}
	now := t.clk.Now()
	st.EndTime = &now
	return false, t.failRecordLocked(rt, stageName, cause)
}

// CompleteRecord marks a record as successful. The success stays tentative
// until the batch commits; a commit failure demotes it via DemoteSuccessful.
func (t *Tracker) CompleteRecord(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return err
	}
	if err := rt.TransitionTo(model.RecordStatusSuccess); err != nil {
		return err
	}
	now := t.clk.Now()
	rt.EndTime = &now
	return nil
}

// FailRecord marks a record as permanently failed outside the normal stage
// retry path, e.g. when a panic tears down its whole batch.
func (t *Tracker) FailRecord(key, stageName string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return err
	}
	if rt.Status == model.RecordStatusPending {
		// Records that never started still fail with the batch.
		if err := rt.TransitionTo(model.RecordStatusFailed); err != nil {
			return err
		}
		rt.FailedStage = stageName
		rt.LastError = exception.ExtractErrorMessage(cause)
		t.appendFailureLocked(rt)
		return nil
	}
	if rt.Status.IsTerminal() {
		return nil
	}
	return t.failRecordLocked(rt, stageName, cause)
}

// DemoteSuccessful flips every tentatively successful record of the active
// batch to failed. Called when the batch commit itself fails, so that no
// record is reported successful without its writes being durable. Returns the
// demoted keys.
func (t *Tracker) DemoteSuccessful(cause error) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch == nil {
		return nil, exception.NewPermanentError(moduleName, "no active batch", nil)
	}

	var demoted []string
	for key, rt := range t.batch.Records {
		if rt.Status != model.RecordStatusSuccess {
			continue
		}
		if err := rt.TransitionTo(model.RecordStatusFailed); err != nil {
			return demoted, err
		}
		rt.FailedStage = "commit"
		rt.LastError = exception.ExtractErrorMessage(cause)
		t.appendFailureLocked(rt)
		demoted = append(demoted, key)
	}
	return demoted, nil
}

// CompleteBatch closes the active batch, folds its counters into the
// cumulative totals and discards the per-record state. Returns the batch
// summary.
func (t *Tracker) CompleteBatch() (model.BatchResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch == nil {
		return model.BatchResult{}, exception.NewPermanentError(moduleName, "no active batch", nil)
	}

	now := t.clk.Now()
	t.batch.EndTime = &now

	var res model.BatchResult
	for key, rt := range t.batch.Records {
		switch rt.Status {
		case model.RecordStatusSuccess:
			res.SuccessCount++
			res.SuccessKeys = append(res.SuccessKeys, key)
		case model.RecordStatusFailed:
			res.FailedCount++
			res.FailedKeys = append(res.FailedKeys, key)
		default:
			// Pending or processing records at batch close mean the caller
			// abandoned them; count them as failed rather than losing them.
			res.FailedCount++
			res.FailedKeys = append(res.FailedKeys, key)
		}
	}
	res.DurationMs = now.Sub(t.batch.StartTime).Milliseconds()

	t.cumulativeCompleted += res.SuccessCount
	t.cumulativeFailed += res.FailedCount
	t.batch = nil
	return res, nil
}

// Progress returns the live counters of the active batch plus the cumulative
// totals of completed batches.
func (t *Tracker) Progress() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var p model.Progress
	if t.batch != nil {
		p = t.batch.Counts()
	}
	p.CumulativeCompleted = t.cumulativeCompleted
	p.CumulativeFailed = t.cumulativeFailed
	return p
}

// StageResult returns the stored output of a completed stage for a record.
func (t *Tracker) StageResult(key, stageName string) (model.RowData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, err := t.record(key)
	if err != nil {
		return nil, false
	}
	st, ok := rt.Stages[stageName]
	if !ok || st.Status != model.StageStatusSuccess {
		return nil, false
	}
	return st.Result, true
}

// StageSucceeded reports whether the named stage completed successfully for
// the record. Used to enforce stage dependencies.
func (t *Tracker) StageSucceeded(key, stageName string) bool {
	_, ok := t.StageResult(key, stageName)
	return ok
}

// FailureRecords returns the permanently failed records accumulated across
// the run, in the order they failed.
func (t *Tracker) FailureRecords() []model.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.FailureRecord, len(t.failures))
	copy(out, t.failures)
	return out
}

// record looks up a record of the active batch. Callers hold t.mu.
func (t *Tracker) record(key string) (*model.RecordTransaction, error) {
	if t.batch == nil {
		return nil, exception.NewPermanentError(moduleName, "no active batch", nil)
	}
	rt, ok := t.batch.Records[key]
	if !ok {
		return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("record '%s' is not part of the active batch", key), nil)
	}
	return rt, nil
}

// failRecordLocked transitions a record to failed and appends its failure
// record. Callers hold t.mu.
func (t *Tracker) failRecordLocked(rt *model.RecordTransaction, stageName string, cause error) error {
	if err := rt.TransitionTo(model.RecordStatusFailed); err != nil {
		return err
	}
	rt.FailedStage = stageName
	rt.LastError = exception.ExtractErrorMessage(cause)
	now := t.clk.Now()
	rt.EndTime = &now
	t.appendFailureLocked(rt)
	return nil
}

// appendFailureLocked captures a failed record for the failure artifact.
// Callers hold t.mu.
func (t *Tracker) appendFailureLocked(rt *model.RecordTransaction) {
	t.failures = append(t.failures, model.FailureRecord{
		BusinessKey:         rt.BusinessKey,
		FailedAtStage:       rt.FailedStage,
		RetryCount:          rt.RetryCount,
		LastError:           rt.LastError,
		OriginalRowSnapshot: rt.Snapshot,
		FailedAt:            t.clk.Now(),
	})
}
