// Package checkpoint persists run checkpoints so an interrupted run can
// resume after its last committed batch instead of starting over.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
)

const moduleName = "checkpoint"

// checkpointEntity is the persisted form of model.Checkpoint.
type checkpointEntity struct {
	RunID            string    `gorm:"column:run_id;primaryKey"`
	Source           string    `gorm:"column:source;not null"`
	LastCommittedKey string    `gorm:"column:last_committed_key;not null"`
	BatchIndex       int       `gorm:"column:batch_index;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null"`
}

func (checkpointEntity) TableName() string {
	return "ingest_checkpoints"
}

// GormStore implements port.CheckpointStore on the versioned store's
// database. Checkpoints live outside the batch transaction on purpose: a
// checkpoint must only ever describe batches that are already durable.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Save upserts the checkpoint of the run.
func (s *GormStore) Save(ctx context.Context, cp model.Checkpoint) error {
	ent := checkpointEntity{
		RunID:            cp.RunID,
		Source:           cp.Source,
		LastCommittedKey: cp.LastCommittedKey,
		BatchIndex:       cp.BatchIndex,
		UpdatedAt:        cp.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"source", "last_committed_key", "batch_index", "updated_at"}),
	}).Create(&ent).Error
	if err != nil {
		return exception.NewTransientError(moduleName, "failed to save checkpoint", err)
	}
	return nil
}

// Load fetches the checkpoint of the run, if one exists.
func (s *GormStore) Load(ctx context.Context, runID string) (model.Checkpoint, bool, error) {
	var ent checkpointEntity
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Checkpoint{}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, exception.NewTransientError(moduleName, "failed to load checkpoint", err)
	}
	return model.Checkpoint{
		RunID:            ent.RunID,
		Source:           ent.Source,
		LastCommittedKey: ent.LastCommittedKey,
		BatchIndex:       ent.BatchIndex,
		UpdatedAt:        ent.UpdatedAt,
	}, true, nil
}

// Clear deletes the checkpoint of the run. Clearing a run that has no
// checkpoint is not an error.
func (s *GormStore) Clear(ctx context.Context, runID string) error {
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&checkpointEntity{}).Error
	if err != nil {
		return exception.NewTransientError(moduleName, "failed to clear checkpoint", err)
	}
	return nil
}

// MemoryStore is an in-memory port.CheckpointStore for tests and for runs
// that do not need durable resume.
type MemoryStore struct {
	mu    sync.Mutex
	saved map[string]model.Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{saved: make(map[string]model.Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[cp.RunID] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.saved[runID]
	return cp, ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, runID)
	return nil
}

var _ port.CheckpointStore = (*GormStore)(nil)
var _ port.CheckpointStore = (*MemoryStore)(nil)
