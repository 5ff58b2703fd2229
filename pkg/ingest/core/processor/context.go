package processor

import (
	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// recordContext is the per-record working state threaded through the stage
// sequence. Each record gets its own instance, so stage execution never
// shares mutable state between workers.
type recordContext struct {
	key string
	// row is the record's main row from the dataset.
	row model.RowData
	// op is the outcome of delta detection, OpUnknown until the ingestion
	// stage has run.
	op model.Delta
	// outputs collects model stage results by stage name.
	outputs map[string]model.RowData
	// skipped is set when delta detection classified the record as
	// unchanged; downstream stages do not run.
	skipped bool
}

func newRecordContext(key string, row model.RowData) *recordContext {
	return &recordContext{
		key:     key,
		row:     row,
		outputs: make(map[string]model.RowData),
	}
}

// inputFor builds the row a model function receives: the main row restricted
// to the configured input columns, or a copy of the whole row when no
// restriction is configured. Upstream model outputs are merged in so derived
// columns are visible downstream.
func (rc *recordContext) inputFor(inputColumns []string) model.RowData {
	merged := rc.row.Copy()
	for _, out := range rc.outputs {
		for k, v := range out {
			merged[k] = v
		}
	}
	return restrictColumns(merged, inputColumns)
}

// restrictColumns copies the row keeping only the named columns. An empty
// column list keeps everything.
func restrictColumns(row model.RowData, inputColumns []string) model.RowData {
	if len(inputColumns) == 0 {
		return row.Copy()
	}
	restricted := make(model.RowData, len(inputColumns))
	for _, col := range inputColumns {
		if v, ok := row[col]; ok {
			restricted[col] = v
		}
	}
	return restricted
}
