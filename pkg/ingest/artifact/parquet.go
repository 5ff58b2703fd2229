package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// parquetFailureRow is the flattened parquet schema of one failure record.
// The row snapshot stays a JSON string; its columns differ per source, which
// rules out a static parquet schema for it.
type parquetFailureRow struct {
	RunID         string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	BusinessKey   string `parquet:"name=business_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	FailedAtStage string `parquet:"name=failed_at_stage, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RetryCount    int32  `parquet:"name=retry_count, type=INT32"`
	LastError     string `parquet:"name=last_error, type=BYTE_ARRAY, convertedtype=UTF8"`
	SnapshotJSON  string `parquet:"name=snapshot_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	FailedAtMs    int64  `parquet:"name=failed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// encodeParquet renders the artifact as a parquet file in memory.
func encodeParquet(art model.FailureArtifact) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriterFromWriter(&buf, new(parquetFailureRow), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, rec := range art.Records {
		snapshot, err := json.Marshal(rec.OriginalRowSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot of '%s': %w", rec.BusinessKey, err)
		}
		row := parquetFailureRow{
			RunID:         art.RunID,
			BusinessKey:   rec.BusinessKey,
			FailedAtStage: rec.FailedAtStage,
			RetryCount:    int32(rec.RetryCount),
			LastError:     rec.LastError,
			SnapshotJSON:  string(snapshot),
			FailedAtMs:    rec.FailedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write parquet row for '%s': %w", rec.BusinessKey, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return buf.Bytes(), nil
}
