package versioned

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/clock"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

const moduleName = "versioned"

// Store implements port.Store over a GORM connection.
type Store struct {
	db  *gorm.DB
	clk clock.Clock
}

// NewStore creates a Store. Version bookkeeping timestamps come from clk.
func NewStore(db *gorm.DB, clk clock.Clock) *Store {
	return &Store{db: db, clk: clk}
}

// Begin opens a batch-scoped transaction.
func (s *Store) Begin(ctx context.Context) (port.StoreTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, exception.NewTransientError(moduleName, "failed to begin transaction", tx.Error)
	}
	return &Tx{db: tx, clk: s.clk}, nil
}

// Tx implements port.StoreTx. A single GORM transaction is not safe for
// concurrent use, so every operation takes the mutex; the processor's workers
// serialize on it while stage execution itself still overlaps.
type Tx struct {
	mu   sync.Mutex
	db   *gorm.DB
	clk  clock.Clock
	done bool
}

// changeTimestamp extracts the change timestamp from an already-normalized
// row. A missing or empty value aborts the record without retry.
func changeTimestamp(normalized model.RowData, tsColumn, key string) (string, error) {
	v, ok := normalized[tsColumn]
	if !ok || v == nil {
		return "", exception.NewPermanentError(moduleName,
			fmt.Sprintf("record '%s' has no value in change timestamp column '%s'", key, tsColumn),
			exception.ErrMissingRequiredField)
	}
	s, isString := v.(string)
	if !isString {
		s = fmt.Sprintf("%v", v)
	}
	if s == "" {
		return "", exception.NewPermanentError(moduleName,
			fmt.Sprintf("record '%s' has an empty change timestamp in column '%s'", key, tsColumn),
			exception.ErrMissingRequiredField)
	}
	return s, nil
}

// DetectDelta classifies the incoming row against the stored current version
// by comparing the normalized change timestamps: no current version means
// insert, an equal timestamp means skip, a different one means update.
func (t *Tx) DetectDelta(ctx context.Context, table, keyColumn, tsColumn, key string, row model.RowData) (model.Delta, error) {
	normalized := NormalizeRow(row)
	ts, err := changeTimestamp(normalized, tsColumn, key)
	if err != nil {
		return model.Delta{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var current VersionedRecord
	err = t.db.WithContext(ctx).Table(table).
		Where("business_key = ? AND is_current = ?", key, true).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Delta{Op: model.OpInsert, ChangeTimestamp: ts}, nil
	}
	if err != nil {
		return model.Delta{}, exception.NewTransientError(moduleName,
			fmt.Sprintf("failed to load current version for key '%s'", key), err)
	}

	if current.ChangeTimestamp == ts {
		if hash, herr := ContentHash(normalized); herr == nil && hash != current.ContentHash {
			logger.Warnf("key '%s': payload differs from version %d without a change timestamp bump, keeping stored version",
				key, current.Version)
		}
		return model.Delta{Op: model.OpSkip, CurrentVersion: current.Version, CurrentID: current.ID, ChangeTimestamp: ts}, nil
	}
	return model.Delta{Op: model.OpUpdate, CurrentVersion: current.Version, CurrentID: current.ID, ChangeTimestamp: ts}, nil
}

// CreateVersion writes the new current version of the record. On updates the
// previous current row is demarked first; its payload is left untouched.
func (t *Tx) CreateVersion(ctx context.Context, table, keyColumn, key string, row model.RowData, delta model.Delta, runID string) (string, error) {
	normalized := NormalizeRow(row)
	hash, err := ContentHash(normalized)
	if err != nil {
		return "", exception.NewPermanentError(moduleName,
			fmt.Sprintf("failed to hash row for key '%s'", key), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now().UTC()
	version := 1

	if delta.Op == model.OpUpdate {
		version = delta.CurrentVersion + 1
		res := t.db.WithContext(ctx).Table(table).
			Where("id = ? AND is_current = ?", delta.CurrentID, true).
			Updates(map[string]interface{}{
				"is_current":    false,
				"superseded_at": now,
			})
		if res.Error != nil {
			return "", exception.NewTransientError(moduleName,
				fmt.Sprintf("failed to supersede version %d of key '%s'", delta.CurrentVersion, key), res.Error)
		}
		if res.RowsAffected == 0 {
			// The current row vanished between detection and write; something
			// else is mutating this table mid-batch.
			return "", exception.NewPermanentError(moduleName,
				fmt.Sprintf("current version of key '%s' disappeared during batch", key), nil)
		}
	}

	rec := VersionedRecord{
		ID:              model.NewID(),
		BusinessKey:     key,
		Version:         version,
		IsCurrent:       true,
		Payload:         normalized,
		ChangeTimestamp: delta.ChangeTimestamp,
		ContentHash:     hash,
		RunID:           runID,
		CreatedAt:       now,
	}
	if err := t.db.WithContext(ctx).Table(table).Create(&rec).Error; err != nil {
		return "", exception.NewTransientError(moduleName,
			fmt.Sprintf("failed to insert version %d of key '%s'", version, key), err)
	}
	return rec.ID, nil
}

// ReplaceDependents swaps the dependent rows of the parent wholesale: the
// current set is retired, never deleted, and the incoming set is inserted
// against the new parent version.
func (t *Tx) ReplaceDependents(ctx context.Context, table, parentKey, parentVersionID string, rows []model.RowData) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now().UTC()
	if err := t.db.WithContext(ctx).Table(table).
		Where("parent_key = ? AND is_current = ?", parentKey, true).
		Updates(map[string]interface{}{
			"is_current":    false,
			"superseded_at": now,
		}).Error; err != nil {
		return exception.NewTransientError(moduleName,
			fmt.Sprintf("failed to retire dependents of key '%s'", parentKey), err)
	}

	if len(rows) == 0 {
		return nil
	}

	recs := make([]DependentRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, DependentRecord{
			ID:              model.NewID(),
			ParentKey:       parentKey,
			ParentVersionID: parentVersionID,
			IsCurrent:       true,
			Payload:         NormalizeRow(row),
			CreatedAt:       now,
		})
	}
	if err := t.db.WithContext(ctx).Table(table).Create(&recs).Error; err != nil {
		return exception.NewTransientError(moduleName,
			fmt.Sprintf("failed to insert %d dependent(s) of key '%s'", len(recs), parentKey), err)
	}
	return nil
}

// SaveStageOutput upserts the model stage output for the record.
func (t *Tx) SaveStageOutput(ctx context.Context, stageName, key string, output model.RowData, runID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := StageOutput{
		ID:          model.NewID(),
		StageName:   stageName,
		BusinessKey: key,
		Payload:     output,
		RunID:       runID,
		UpdatedAt:   t.clk.Now().UTC(),
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stage_name"}, {Name: "business_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "run_id", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return exception.NewTransientError(moduleName,
			fmt.Sprintf("failed to save output of stage '%s' for key '%s'", stageName, key), err)
	}
	return nil
}

// Commit makes the batch durable.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	if err := t.db.Commit().Error; err != nil {
		return exception.NewPermanentError(moduleName, "commit failed", err)
	}
	t.done = true
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}

var _ port.Store = (*Store)(nil)
var _ port.StoreTx = (*Tx)(nil)
