// Package dataset loads parsed snapshot files into the engine's Dataset
// form. Parsing raw source exports into this shape happens upstream; the
// engine only consumes the normalized result.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

const moduleName = "dataset"

// snapshotFile is the on-disk JSON layout of a parsed snapshot.
type snapshotFile struct {
	Source     string                                `json:"source"`
	MainRows   map[string]model.RowData              `json:"mainRows"`
	Dependents map[string]map[string][]model.RowData `json:"dependents"`
}

// LoadFile reads a snapshot JSON file into a Dataset.
func LoadFile(path string) (*model.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName,
			fmt.Sprintf("failed to read snapshot file '%s'", path), err)
	}
	return Parse(data)
}

// Parse decodes snapshot JSON bytes into a Dataset.
func Parse(data []byte) (*model.Dataset, error) {
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode snapshot JSON", err)
	}
	if f.Source == "" {
		return nil, exception.NewPermanentError(moduleName, "snapshot names no source", nil)
	}
	ds := &model.Dataset{
		Source:     f.Source,
		MainRows:   f.MainRows,
		Dependents: f.Dependents,
	}
	if ds.MainRows == nil {
		ds.MainRows = make(map[string]model.RowData)
	}
	return ds, nil
}
