package versioned

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// canonicalTimeLayout is the zone-free form every timestamp value is reduced
// to before hashing and storage. Source snapshots carry the same wall-clock
// instant with varying offsets depending on the exporter; comparing raw
// strings would flag those as changes.
const canonicalTimeLayout = "2006-01-02T15:04:05.999999999"

// timeLayouts are the accepted input forms, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// normalizeTimeString reduces a timestamp string to the canonical zone-free
// layout, keeping its wall-clock components as written. Returns ok=false for
// strings that are not timestamps.
func normalizeTimeString(s string) (string, bool) {
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Formatting keeps the parsed wall-clock fields; the offset that was
		// parsed along with them is simply not rendered.
		return t.Format(canonicalTimeLayout), true
	}
	return "", false
}

// NormalizeRow returns a copy of the row with every timestamp value, whether
// a time.Time or a parseable string, reduced to the canonical zone-free form.
// Non-timestamp values pass through untouched.
func NormalizeRow(row model.RowData) model.RowData {
	out := make(model.RowData, len(row))
	for k, v := range row {
		switch tv := v.(type) {
		case time.Time:
			out[k] = tv.Format(canonicalTimeLayout)
		case string:
			if norm, ok := normalizeTimeString(tv); ok {
				out[k] = norm
			} else {
				out[k] = tv
			}
		default:
			out[k] = v
		}
	}
	return out
}

// ContentHash computes the content fingerprint of a normalized row. The hash
// covers only the row's own columns; version bookkeeping never feeds into it,
// so re-ingesting an unchanged row always produces the stored hash.
// json.Marshal sorts map keys, which makes the encoding canonical.
func ContentHash(row model.RowData) (string, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
