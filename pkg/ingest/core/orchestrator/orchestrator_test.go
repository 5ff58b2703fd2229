package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/core/processor"
	"github.com/tigerroll/shoreline/pkg/ingest/core/stage"
	"github.com/tigerroll/shoreline/pkg/ingest/core/tracker"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
)

// memTx is an in-memory port.StoreTx used to drive full-run tests.
type memTx struct {
	mu        sync.Mutex
	current   map[string]model.RowData
	writes    []string
	commitErr error
	panicKey  string
}

func (m *memTx) DetectDelta(_ context.Context, _, _, tsColumn, key string, row model.RowData) (model.Delta, error) {
	if key == m.panicKey {
		panic("stage blew up on " + key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.current[key]
	if !ok {
		return model.Delta{Op: model.OpInsert}, nil
	}
	if prev[tsColumn] == row[tsColumn] {
		return model.Delta{Op: model.OpSkip}, nil
	}
	return model.Delta{Op: model.OpUpdate, CurrentVersion: 1, CurrentID: "v1-" + key}, nil
}

func (m *memTx) CreateVersion(_ context.Context, _, _, key string, row model.RowData, _ model.Delta, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[key] = row
	m.writes = append(m.writes, key)
	return "v-" + key, nil
}

func (m *memTx) ReplaceDependents(context.Context, string, string, string, []model.RowData) error {
	return nil
}

func (m *memTx) SaveStageOutput(context.Context, string, string, model.RowData, string) error {
	return nil
}

func (m *memTx) Commit() error { return m.commitErr }
func (m *memTx) Rollback() error { return nil }

type memStore struct{ tx *memTx }

func (s *memStore) Begin(context.Context) (port.StoreTx, error) { return s.tx, nil }

// memCheckpoints is an in-memory port.CheckpointStore.
type memCheckpoints struct {
	mu    sync.Mutex
	saved map[string]model.Checkpoint
	log   []model.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{saved: make(map[string]model.Checkpoint)}
}

func (c *memCheckpoints) Save(_ context.Context, cp model.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[cp.RunID] = cp
	c.log = append(c.log, cp)
	return nil
}

func (c *memCheckpoints) Load(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.saved[runID]
	return cp, ok, nil
}

func (c *memCheckpoints) Clear(_ context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.saved, runID)
	return nil
}

type memArtifacts struct {
	mu      sync.Mutex
	written []model.FailureArtifact
}

func (a *memArtifacts) WriteFailure(_ context.Context, art model.FailureArtifact) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written = append(a.written, art)
	return "mem://" + art.RunID, nil
}

type memNotifier struct {
	started  int
	finished int
	failed   int
	percents []float64
	// onProgress, when set, fires after each progress notification.
	onProgress func()
}

func (n *memNotifier) RunStarted(context.Context, string, int)             { n.started++ }
func (n *memNotifier) RunFinished(context.Context, string, model.RunStats) { n.finished++ }
func (n *memNotifier) RunFailed(context.Context, string, error)            { n.failed++ }
func (n *memNotifier) RunProgress(_ context.Context, _ string, _ string, percent float64, _ model.RunStats) {
	n.percents = append(n.percents, percent)
	if n.onProgress != nil {
		n.onProgress()
	}
}

func testGraph(t *testing.T) *config.CompiledGraph {
	t.Helper()
	p := config.PipelineConfig{
		Sources: []config.SourceConfig{{Name: "accounts", Table: "accounts", KeyColumn: "account_id", ChangeTimestampColumn: "updated_at"}},
		Stages: []config.StageConfig{{
			Name: "ingest", Type: "ingestion",
			Properties: map[string]interface{}{"source": "accounts"},
		}},
	}
	g, err := p.Compile()
	require.NoError(t, err)
	return g
}

func testDataset(keys ...string) *model.Dataset {
	ds := &model.Dataset{Source: "accounts", MainRows: make(map[string]model.RowData)}
	for _, k := range keys {
		ds.MainRows[k] = model.RowData{"account_id": k, "balance": 100.0, "updated_at": "2026-03-01T05:00:00Z"}
	}
	return ds
}

type harness struct {
	orch        *Orchestrator
	tx          *memTx
	checkpoints *memCheckpoints
	artifacts   *memArtifacts
	notifier    *memNotifier
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	tr := tracker.New(3, clk)
	engineCfg := &config.EngineConfig{
		BatchSize:               batchSize,
		MaxRetries:              3,
		RetryBaseDelayMs:        10,
		Workers:                 1,
		ProgressIntervalRecords: 1,
	}
	tx := &memTx{current: make(map[string]model.RowData)}
	proc := processor.New(testGraph(t), stage.NewRegistry(), &memStore{tx: tx}, tr, clk, nil, engineCfg)
	h := &harness{
		tx:          tx,
		checkpoints: newMemCheckpoints(),
		artifacts:   &memArtifacts{},
		notifier:    &memNotifier{},
	}
	h.orch = New(proc, tr, h.checkpoints, h.artifacts, h.notifier, nil, clk, engineCfg)
	return h
}

func TestRunProcessesAllBatches(t *testing.T) {
	h := newHarness(t, 2)
	stats, err := h.orch.Run(context.Background(), testDataset("A", "B", "C", "D", "E"))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.RecordsTotal)
	assert.Equal(t, 5, stats.RecordsProcessed)
	assert.Equal(t, 5, stats.RecordsInserted)
	assert.Zero(t, stats.RecordsFailed)
	assert.Equal(t, 3, stats.BatchesTotal)
	assert.Equal(t, 3, stats.BatchesCompleted)

	assert.Equal(t, 1, h.notifier.started)
	assert.Equal(t, 1, h.notifier.finished)
	assert.Equal(t, []float64{40, 80, 100}, h.notifier.percents)
	assert.Empty(t, h.artifacts.written)
	// The checkpoint advanced per batch and was cleared at the end.
	assert.Len(t, h.checkpoints.log, 3)
	assert.Equal(t, "B", h.checkpoints.log[0].LastCommittedKey)
	assert.Equal(t, "D", h.checkpoints.log[1].LastCommittedKey)
	assert.Equal(t, "E", h.checkpoints.log[2].LastCommittedKey)
	assert.Empty(t, h.checkpoints.saved)
}

func TestSecondIdenticalRunSkipsEverything(t *testing.T) {
	h := newHarness(t, 10)
	ds := testDataset("A", "B")
	_, err := h.orch.Run(context.Background(), ds)
	require.NoError(t, err)

	stats, err := h.orch.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsSkipped)
	assert.Zero(t, stats.RecordsInserted)
}

func TestPanicCostsItsRecordOnly(t *testing.T) {
	h := newHarness(t, 2)
	h.tx.panicKey = "B"

	stats, err := h.orch.Run(context.Background(), testDataset("A", "B", "C", "D"))
	require.NoError(t, err)

	// The panic on B is contained: the other three records still commit.
	assert.Equal(t, 1, stats.RecordsFailed)
	assert.Equal(t, 3, stats.RecordsInserted)
	assert.Equal(t, 1, h.notifier.finished)

	require.Len(t, h.artifacts.written, 1)
	art := h.artifacts.written[0]
	assert.Equal(t, 1, art.TotalFailed)
	require.Len(t, art.Records, 1)
	assert.Equal(t, "B", art.Records[0].BusinessKey)
	assert.Equal(t, "panic", art.Records[0].FailedAtStage)
}

func TestFailureArtifactWrittenOncePerRun(t *testing.T) {
	h := newHarness(t, 10)
	ds := testDataset("A", "B")
	delete(ds.MainRows["A"], "account_id")

	stats, err := h.orch.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsFailed)

	require.Len(t, h.artifacts.written, 1)
	art := h.artifacts.written[0]
	assert.Equal(t, 1, art.TotalFailed)
	require.Len(t, art.Records, 1)
	assert.Equal(t, "A", art.Records[0].BusinessKey)
	assert.NotEmpty(t, art.Records[0].LastError)
}

func TestResumeSkipsCommittedKeys(t *testing.T) {
	h := newHarness(t, 2)
	runID := "run-resume"
	require.NoError(t, h.checkpoints.Save(context.Background(), model.Checkpoint{
		RunID:            runID,
		Source:           "accounts",
		LastCommittedKey: "B",
		BatchIndex:       0,
	}))

	stats, err := h.orch.Resume(context.Background(), runID, testDataset("A", "B", "C", "D"))
	require.NoError(t, err)

	// Only C and D are reprocessed, one record per batch.
	assert.Equal(t, 2, stats.RecordsTotal)
	assert.Equal(t, 2, stats.BatchesTotal)
	assert.ElementsMatch(t, []string{"C", "D"}, h.tx.writes)
}

func TestResumeWithoutCheckpointStartsOver(t *testing.T) {
	h := newHarness(t, 2)
	stats, err := h.orch.Resume(context.Background(), "run-x", testDataset("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordsTotal)
	assert.Equal(t, 2, stats.BatchesTotal)
}

func TestCommitFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	h := newHarness(t, 10)
	h.tx.commitErr = errors.New("disk full")

	stats, err := h.orch.Run(context.Background(), testDataset("A", "B"))
	require.Error(t, err)
	assert.Equal(t, 2, stats.RecordsFailed)
	assert.Empty(t, h.checkpoints.log)
	assert.Equal(t, 1, h.notifier.failed)
}

func TestCancelledRunKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.notifier.onProgress = cancel

	stats, err := h.orch.Run(ctx, testDataset("A", "B", "C", "D", "E"))
	require.Error(t, err)
	assert.Equal(t, 2, stats.RecordsProcessed)
	assert.Equal(t, 1, h.notifier.failed)

	// The cursor of the committed batch survives so Resume can pick it up.
	require.Len(t, h.checkpoints.log, 1)
	require.Len(t, h.checkpoints.saved, 1)
	for _, cp := range h.checkpoints.saved {
		assert.Equal(t, "B", cp.LastCommittedKey)
	}
}

func TestFailedRunKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, 2)
	runID := "run-partial"
	require.NoError(t, h.checkpoints.Save(context.Background(), model.Checkpoint{
		RunID:            runID,
		Source:           "accounts",
		LastCommittedKey: "A",
		BatchIndex:       0,
	}))
	h.tx.commitErr = errors.New("disk full")

	_, err := h.orch.Resume(context.Background(), runID, testDataset("A", "B", "C"))
	require.Error(t, err)

	// The pre-existing cursor is not wiped by the failed run.
	cp, found, lerr := h.checkpoints.Load(context.Background(), runID)
	require.NoError(t, lerr)
	require.True(t, found)
	assert.Equal(t, "A", cp.LastCommittedKey)
}

func TestPartition(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	batches := partition(keys, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])

	assert.Nil(t, partition(nil, 2))
	assert.Len(t, partition(keys, 100), 1)
}
