// Package artifact serializes failure artifacts and stores them in a
// configurable backend. Artifacts are written once per run, only when at
// least one record failed permanently.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

const moduleName = "artifact"

// Format selects the artifact serialization.
type Format string

const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// Writer serializes failure artifacts and hands them to an ArtifactStore.
type Writer struct {
	store  port.ArtifactStore
	format Format
}

// NewWriter creates a Writer. Unknown formats fall back to JSON.
func NewWriter(store port.ArtifactStore, format Format) *Writer {
	if format != FormatParquet {
		format = FormatJSON
	}
	return &Writer{store: store, format: format}
}

// WriteFailure serializes the artifact and stores it under a per-run name.
// Returns the location reported by the store.
func (w *Writer) WriteFailure(ctx context.Context, art model.FailureArtifact) (string, error) {
	var (
		data []byte
		err  error
		ext  string
	)
	switch w.format {
	case FormatParquet:
		data, err = encodeParquet(art)
		ext = "parquet"
	default:
		data, err = json.MarshalIndent(art, "", "  ")
		ext = "json"
	}
	if err != nil {
		return "", exception.NewPermanentError(moduleName, "failed to serialize failure artifact", err)
	}

	name := fmt.Sprintf("failures/%s.%s", art.RunID, ext)
	loc, err := w.store.Put(ctx, name, data)
	if err != nil {
		return "", exception.NewTransientError(moduleName, "failed to store failure artifact", err)
	}
	return loc, nil
}
