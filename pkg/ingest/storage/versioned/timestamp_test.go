package versioned

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

func TestNormalizeRowStripsZoneOffset(t *testing.T) {
	row := NormalizeRow(model.RowData{
		"updated_at": "2026-06-01T12:30:00+09:00",
		"name":       "alpha",
	})
	assert.Equal(t, "2026-06-01T12:30:00", row["updated_at"])
	assert.Equal(t, "alpha", row["name"])
}

func TestNormalizeRowKeepsWallClock(t *testing.T) {
	// The same wall-clock time under different offsets normalizes identically.
	a := NormalizeRow(model.RowData{"ts": "2026-06-01T12:30:00+09:00"})
	b := NormalizeRow(model.RowData{"ts": "2026-06-01T12:30:00-05:00"})
	c := NormalizeRow(model.RowData{"ts": "2026-06-01 12:30:00"})
	assert.Equal(t, a["ts"], b["ts"])
	assert.Equal(t, a["ts"], c["ts"])
}

func TestNormalizeRowHandlesTimeValues(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	row := NormalizeRow(model.RowData{
		"ts": time.Date(2026, 6, 1, 12, 30, 0, 0, loc),
	})
	assert.Equal(t, "2026-06-01T12:30:00", row["ts"])
}

func TestNormalizeRowPassesNonTimestampsThrough(t *testing.T) {
	row := NormalizeRow(model.RowData{
		"count":   float64(42),
		"label":   "not a date",
		"flag":    true,
		"partial": "2026-06-01",
	})
	assert.Equal(t, float64(42), row["count"])
	assert.Equal(t, "not a date", row["label"])
	assert.Equal(t, true, row["flag"])
	assert.Equal(t, "2026-06-01", row["partial"])
}

func TestContentHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := ContentHash(model.RowData{"a": 1, "b": "x", "c": true})
	require.NoError(t, err)
	h2, err := ContentHash(model.RowData{"c": true, "a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ContentHash(model.RowData{"a": 2, "b": "x", "c": true})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestContentHashIgnoresZoneOffsetAfterNormalization(t *testing.T) {
	h1, err := ContentHash(NormalizeRow(model.RowData{"ts": "2026-06-01T12:30:00+09:00"}))
	require.NoError(t, err)
	h2, err := ContentHash(NormalizeRow(model.RowData{"ts": "2026-06-01T12:30:00-05:00"}))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
