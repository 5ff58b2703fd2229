package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `{
  "source": "accounts",
  "mainRows": {
    "A-1": {"account_id": "A-1", "balance": 100.5},
    "A-2": {"account_id": "A-2", "balance": 7}
  },
  "dependents": {
    "account_holders": {
      "A-1": [{"holder": "x"}, {"holder": "y"}]
    }
  }
}`

func TestParseSnapshot(t *testing.T) {
	ds, err := Parse([]byte(sampleSnapshot))
	require.NoError(t, err)

	assert.Equal(t, "accounts", ds.Source)
	require.Len(t, ds.MainRows, 2)
	assert.Equal(t, 100.5, ds.MainRows["A-1"]["balance"])
	assert.Len(t, ds.DependentsFor("account_holders", "A-1"), 2)
	assert.Nil(t, ds.DependentsFor("account_holders", "A-2"))
}

func TestParseRejectsMissingSource(t *testing.T) {
	_, err := Parse([]byte(`{"mainRows": {}}`))
	require.Error(t, err)
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSnapshot), 0o644))

	ds, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, ds.MainRows, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
