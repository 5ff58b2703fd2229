package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

func testArtifact() model.FailureArtifact {
	return model.FailureArtifact{
		RunID:       "run-art",
		GeneratedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		TotalFailed: 2,
		Records: []model.FailureRecord{
			{
				BusinessKey:         "A",
				FailedAtStage:       "ingest",
				RetryCount:          3,
				LastError:           "timeout",
				OriginalRowSnapshot: model.RowData{"account_id": "A"},
				FailedAt:            time.Date(2026, 5, 1, 11, 59, 0, 0, time.UTC),
			},
			{
				BusinessKey:   "B",
				FailedAtStage: "score",
				RetryCount:    0,
				LastError:     "missing required field",
				FailedAt:      time.Date(2026, 5, 1, 11, 59, 30, 0, time.UTC),
			},
		},
	}
}

func TestWriteFailureJSONToLocalStore(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(NewLocalStore(dir), FormatJSON)

	loc, err := w.WriteFailure(context.Background(), testArtifact())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "failures", "run-art.json"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)

	var got model.FailureArtifact
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-art", got.RunID)
	assert.Equal(t, 2, got.TotalFailed)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "timeout", got.Records[0].LastError)
	assert.Equal(t, "A", got.Records[0].OriginalRowSnapshot["account_id"])
}

func TestWriteFailureParquet(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(NewLocalStore(dir), FormatParquet)

	loc, err := w.WriteFailure(context.Background(), testArtifact())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "failures", "run-art.parquet"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	// Parquet files start and end with the PAR1 magic.
	require.GreaterOrEqual(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

func TestUnknownFormatFallsBackToJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(NewLocalStore(dir), Format("xml"))

	loc, err := w.WriteFailure(context.Background(), testArtifact())
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(loc))
}
