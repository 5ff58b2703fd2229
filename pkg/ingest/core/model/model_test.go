package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTransitions(t *testing.T) {
	st := NewSubTransaction("normalize_timestamps")
	assert.Equal(t, StageStatusPending, st.Status)

	require.NoError(t, st.TransitionTo(StageStatusRunning))
	require.NoError(t, st.TransitionTo(StageStatusRetrying))
	require.NoError(t, st.TransitionTo(StageStatusRunning))
	require.NoError(t, st.TransitionTo(StageStatusSuccess))
	assert.True(t, st.Status.IsTerminal())

	// Terminal states never transition.
	assert.Error(t, st.TransitionTo(StageStatusRunning))
	assert.Error(t, st.TransitionTo(StageStatusFailed))
}

func TestStageTransitionRejectsSkippingRunning(t *testing.T) {
	st := NewSubTransaction("ingest")
	assert.Error(t, st.TransitionTo(StageStatusSuccess))
	assert.Error(t, st.TransitionTo(StageStatusRetrying))
	assert.Equal(t, StageStatusPending, st.Status)
}

func TestRecordTransitions(t *testing.T) {
	rt := NewRecordTransaction("ACCT-001", RowData{"id": "ACCT-001"}, time.Now())
	assert.Equal(t, RecordStatusPending, rt.Status)

	require.NoError(t, rt.TransitionTo(RecordStatusProcessing))
	require.NoError(t, rt.TransitionTo(RecordStatusSuccess))

	// Demotion after a commit failure is the one allowed exit from SUCCESS.
	require.NoError(t, rt.TransitionTo(RecordStatusFailed))
	assert.Error(t, rt.TransitionTo(RecordStatusProcessing))
}

func TestRecordStageCreatesOnFirstUse(t *testing.T) {
	rt := NewRecordTransaction("K1", nil, time.Now())
	st := rt.Stage("delta_detect")
	assert.Equal(t, StageStatusPending, st.Status)
	assert.Same(t, st, rt.Stage("delta_detect"))
}

func TestRowDataValueScan(t *testing.T) {
	in := RowData{"account_id": "A-1", "balance": 42.5}
	v, err := in.Value()
	require.NoError(t, err)

	var out RowData
	require.NoError(t, out.Scan(v))
	assert.Equal(t, "A-1", out["account_id"])
	assert.Equal(t, 42.5, out["balance"])

	var fromNil RowData
	require.NoError(t, fromNil.Scan(nil))
	assert.Empty(t, fromNil)
}

func TestRowDataCopyIsIndependent(t *testing.T) {
	in := RowData{"a": 1}
	cp := in.Copy()
	cp["a"] = 2
	assert.Equal(t, 1, in["a"])
}

func TestBatchCounts(t *testing.T) {
	now := time.Now()
	bt := &BatchTransaction{
		ID:      NewID(),
		RunID:   NewID(),
		Records: map[string]*RecordTransaction{},
	}
	for _, k := range []string{"A", "B", "C", "D"} {
		bt.Records[k] = NewRecordTransaction(k, nil, now)
	}
	require.NoError(t, bt.Records["A"].TransitionTo(RecordStatusProcessing))
	require.NoError(t, bt.Records["A"].TransitionTo(RecordStatusSuccess))
	require.NoError(t, bt.Records["B"].TransitionTo(RecordStatusProcessing))
	require.NoError(t, bt.Records["B"].TransitionTo(RecordStatusFailed))
	require.NoError(t, bt.Records["C"].TransitionTo(RecordStatusProcessing))

	p := bt.Counts()
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 1, p.InProgress)
	assert.Equal(t, 1, p.Pending)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "insert", OpInsert.String())
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "skip", OpSkip.String())
	assert.Equal(t, "unknown", OpUnknown.String())
}

func TestDatasetDependentsFor(t *testing.T) {
	ds := &Dataset{
		Source:   "accounts",
		MainRows: map[string]RowData{"K1": {"id": "K1"}},
		Dependents: map[string]map[string][]RowData{
			"account_holders": {
				"K1": {{"holder": "x"}, {"holder": "y"}},
			},
		},
	}
	assert.Len(t, ds.DependentsFor("account_holders", "K1"), 2)
	assert.Nil(t, ds.DependentsFor("account_holders", "K2"))
	assert.Nil(t, ds.DependentsFor("unknown_table", "K1"))
}
