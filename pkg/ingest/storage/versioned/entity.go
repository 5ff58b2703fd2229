// Package versioned implements the delta-versioned store on GORM. Every
// change to a record becomes a new version row; the previous current row is
// closed out, never overwritten, so the full history of each business key
// stays queryable.
package versioned

import (
	"time"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
)

// VersionedRecord is one version of a main-entity record. Exactly one row per
// business key has IsCurrent set; the unique partial index in the schema
// enforces it.
type VersionedRecord struct {
	ID          string        `gorm:"column:id;primaryKey"`
	BusinessKey string        `gorm:"column:business_key;not null;index"`
	Version     int           `gorm:"column:version;not null"`
	IsCurrent   bool          `gorm:"column:is_current;not null"`
	Payload     model.RowData `gorm:"column:payload;type:text;not null"`
	// ChangeTimestamp is the row's change timestamp in canonical zone-free
	// form; delta detection compares against it.
	ChangeTimestamp string    `gorm:"column:change_timestamp;not null"`
	ContentHash     string    `gorm:"column:content_hash;not null"`
	RunID           string    `gorm:"column:run_id;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	// SupersededAt is set on the old current row when a newer version lands.
	SupersededAt *time.Time `gorm:"column:superseded_at"`
}

// DependentRecord is one row of a dependent table, attached to a specific
// version of its parent. Dependent rows have no identity of their own; on an
// update of the parent the whole current set is retired and the incoming set
// inserted, so past sets stay queryable through their parent version.
type DependentRecord struct {
	ID              string        `gorm:"column:id;primaryKey"`
	ParentKey       string        `gorm:"column:parent_key;not null;index"`
	ParentVersionID string        `gorm:"column:parent_version_id;not null"`
	IsCurrent       bool          `gorm:"column:is_current;not null"`
	Payload         model.RowData `gorm:"column:payload;type:text;not null"`
	CreatedAt       time.Time     `gorm:"column:created_at;not null"`
	SupersededAt    *time.Time    `gorm:"column:superseded_at"`
}

// StageOutput is the persisted result of a model stage for one record,
// upserted on (stage_name, business_key).
type StageOutput struct {
	ID          string        `gorm:"column:id;primaryKey"`
	StageName   string        `gorm:"column:stage_name;not null;uniqueIndex:idx_stage_outputs_stage_key"`
	BusinessKey string        `gorm:"column:business_key;not null;uniqueIndex:idx_stage_outputs_stage_key"`
	Payload     model.RowData `gorm:"column:payload;type:text;not null"`
	RunID       string        `gorm:"column:run_id;not null"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;not null"`
}

// TableName maps StageOutput to its fixed table. Versioned and dependent
// records have per-source tables supplied at query time instead.
func (StageOutput) TableName() string {
	return "stage_outputs"
}
