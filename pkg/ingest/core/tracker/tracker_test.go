package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

func newTestTracker(maxRetries int) (*Tracker, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	return New(maxRetries, clk), clk
}

func startBatch(t *testing.T, tr *Tracker, keys ...string) {
	t.Helper()
	rows := make(map[string]model.RowData, len(keys))
	for _, k := range keys {
		rows[k] = model.RowData{"id": k}
	}
	_, err := tr.StartBatch("run-1", rows)
	require.NoError(t, err)
}

func TestHappyPathRecord(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "A")

	require.NoError(t, tr.StartRecord("A"))
	attempt, err := tr.StartStage("A", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	require.NoError(t, tr.CompleteStage("A", "ingest", model.RowData{"op": "insert"}))
	require.NoError(t, tr.CompleteRecord("A"))

	out, ok := tr.StageResult("A", "ingest")
	require.True(t, ok)
	assert.Equal(t, "insert", out["op"])
	assert.True(t, tr.StageSucceeded("A", "ingest"))

	res, err := tr.CompleteBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Zero(t, res.FailedCount)
	assert.Empty(t, tr.FailureRecords())
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "B")
	require.NoError(t, tr.StartRecord("B"))

	attempt, err := tr.StartStage("B", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	retry, err := tr.FailStage("B", "ingest", errors.New("connection reset"))
	require.NoError(t, err)
	assert.True(t, retry)

	attempt, err = tr.StartStage("B", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	require.NoError(t, tr.CompleteStage("B", "ingest", nil))
	require.NoError(t, tr.CompleteRecord("B"))

	res, err := tr.CompleteBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Empty(t, tr.FailureRecords())
}

func TestRetriesExhaustedFailsRecord(t *testing.T) {
	tr, _ := newTestTracker(2)
	startBatch(t, tr, "C")
	require.NoError(t, tr.StartRecord("C"))

	_, err := tr.StartStage("C", "ingest")
	require.NoError(t, err)
	retry, err := tr.FailStage("C", "ingest", errors.New("timeout"))
	require.NoError(t, err)
	assert.True(t, retry)

	_, err = tr.StartStage("C", "ingest")
	require.NoError(t, err)
	retry, err = tr.FailStage("C", "ingest", errors.New("timeout"))
	require.NoError(t, err)
	assert.False(t, retry)

	failures := tr.FailureRecords()
	require.Len(t, failures, 1)
	assert.Equal(t, "C", failures[0].BusinessKey)
	assert.Equal(t, "ingest", failures[0].FailedAtStage)
	assert.Equal(t, 1, failures[0].RetryCount)
	assert.Equal(t, "timeout", failures[0].LastError)
	assert.Equal(t, "C", failures[0].OriginalRowSnapshot["id"])

	res, err := tr.CompleteBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"C"}, res.FailedKeys)
}

func TestPermanentErrorNeverRetries(t *testing.T) {
	tr, _ := newTestTracker(5)
	startBatch(t, tr, "D")
	require.NoError(t, tr.StartRecord("D"))

	_, err := tr.StartStage("D", "ingest")
	require.NoError(t, err)
	retry, err := tr.FailStage("D", "ingest", exception.ErrMissingRequiredField)
	require.NoError(t, err)
	assert.False(t, retry)

	failures := tr.FailureRecords()
	require.Len(t, failures, 1)
	assert.Zero(t, failures[0].RetryCount)
}

func TestDemoteSuccessfulOnCommitFailure(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "A", "B")
	for _, k := range []string{"A", "B"} {
		require.NoError(t, tr.StartRecord(k))
		_, err := tr.StartStage(k, "ingest")
		require.NoError(t, err)
		require.NoError(t, tr.CompleteStage(k, "ingest", nil))
		require.NoError(t, tr.CompleteRecord(k))
	}

	demoted, err := tr.DemoteSuccessful(exception.ErrCommitFailed)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, demoted)

	res, err := tr.CompleteBatch()
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.Equal(t, 2, res.FailedCount)

	failures := tr.FailureRecords()
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.Equal(t, "commit", f.FailedAtStage)
	}
}

func TestFailRecordOnPendingRecord(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "E")

	require.NoError(t, tr.FailRecord("E", "batch", errors.New("batch panic")))
	failures := tr.FailureRecords()
	require.Len(t, failures, 1)
	assert.Equal(t, "batch", failures[0].FailedAtStage)

	// Idempotent on terminal records.
	require.NoError(t, tr.FailRecord("E", "batch", errors.New("again")))
	assert.Len(t, tr.FailureRecords(), 1)
}

func TestSingleActiveBatch(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "A")

	_, err := tr.StartBatch("run-1", map[string]model.RowData{"X": nil})
	require.Error(t, err)

	_, err = tr.CompleteBatch()
	require.NoError(t, err)

	// A new batch opens once the previous one is complete.
	startBatch(t, tr, "X")
}

func TestProgressCumulativeAcrossBatches(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "A", "B")
	require.NoError(t, tr.StartRecord("A"))
	_, err := tr.StartStage("A", "ingest")
	require.NoError(t, err)
	require.NoError(t, tr.CompleteStage("A", "ingest", nil))
	require.NoError(t, tr.CompleteRecord("A"))
	require.NoError(t, tr.FailRecord("B", "ingest", errors.New("bad")))

	p := tr.Progress()
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Failed)

	_, err = tr.CompleteBatch()
	require.NoError(t, err)

	p = tr.Progress()
	assert.Zero(t, p.Total)
	assert.Equal(t, 1, p.CumulativeCompleted)
	assert.Equal(t, 1, p.CumulativeFailed)
}

func TestUnknownRecordKeyRejected(t *testing.T) {
	tr, _ := newTestTracker(3)
	startBatch(t, tr, "A")
	require.Error(t, tr.StartRecord("ZZZ"))
	_, err := tr.StartStage("ZZZ", "ingest")
	require.Error(t, err)
}
