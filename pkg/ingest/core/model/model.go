// Package model defines the domain model for the Shoreline ingestion engine:
// per-record and per-stage transaction state, batch progress counters, delta
// operations, run statistics and the failure artifact.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageStatus represents the state of one stage attempt for one record.
type StageStatus string

const (
	StageStatusPending  StageStatus = "PENDING"
	StageStatusRunning  StageStatus = "RUNNING"
	StageStatusSuccess  StageStatus = "SUCCESS"
	StageStatusRetrying StageStatus = "RETRYING"
	StageStatusFailed   StageStatus = "FAILED"
)

// String returns the string representation of the StageStatus.
func (s StageStatus) String() string {
	return string(s)
}

// IsTerminal checks if the StageStatus represents a terminal state.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusSuccess || s == StageStatusFailed
}

// isValidStageTransition checks if a stage state transition is valid.
// The machine is: pending -> running -> {success | retrying -> running (loop) | failed}.
func isValidStageTransition(current, next StageStatus) bool {
	switch current {
	case StageStatusPending:
		return next == StageStatusRunning
	case StageStatusRunning:
		return next == StageStatusSuccess || next == StageStatusRetrying || next == StageStatusFailed
	case StageStatusRetrying:
		return next == StageStatusRunning || next == StageStatusFailed
	case StageStatusSuccess, StageStatusFailed:
		return false
	default:
		return false
	}
}

// RecordStatus represents the overall state of one record's run through the
// configured stage sequence.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "PENDING"
	RecordStatusProcessing RecordStatus = "PROCESSING"
	RecordStatusSuccess    RecordStatus = "SUCCESS"
	RecordStatusFailed     RecordStatus = "FAILED"
)

// String returns the string representation of the RecordStatus.
func (s RecordStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RecordStatus represents a terminal state.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusSuccess || s == RecordStatusFailed
}

// isValidRecordTransition checks if a record state transition is valid.
// SUCCESS -> FAILED is allowed: a batch commit failure demotes records that
// had been tentatively marked successful.
func isValidRecordTransition(current, next RecordStatus) bool {
	switch current {
	case RecordStatusPending:
		return next == RecordStatusProcessing || next == RecordStatusFailed
	case RecordStatusProcessing:
		return next == RecordStatusSuccess || next == RecordStatusFailed
	case RecordStatusSuccess:
		return next == RecordStatusFailed
	case RecordStatusFailed:
		return false
	default:
		return false
	}
}

// RowData is a key-value representation of one normalized tabular row. It
// implements driver.Valuer and sql.Scanner so it can be persisted as a JSON
// column.
type RowData map[string]interface{}

// Value implements the driver.Valuer interface, converting the RowData to a
// JSON string.
func (r RowData) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface, converting a JSON value to RowData.
func (r *RowData) Scan(value interface{}) error {
	if value == nil {
		*r = make(RowData)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RowData: %T", value)
	}
	if len(b) == 0 {
		*r = make(RowData)
		return nil
	}
	if err := json.Unmarshal(b, r); err != nil {
		return fmt.Errorf("failed to unmarshal RowData JSON: %w", err)
	}
	return nil
}

// Copy creates a shallow copy of the RowData.
func (r RowData) Copy() RowData {
	out := make(RowData, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operation tags the outcome of delta detection for one record.
type Operation int

const (
	OpUnknown Operation = iota
	OpInsert
	OpUpdate
	OpSkip
)

// String returns the lower-case name of the operation.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Delta is the result of comparing an incoming record against the stored
// current version.
type Delta struct {
	// Op is the detected operation.
	Op Operation
	// CurrentVersion is the version number of the stored current row, if any.
	CurrentVersion int
	// CurrentID is the surrogate id of the stored current row, if any.
	CurrentID string
	// ChangeTimestamp is the incoming row's change timestamp in canonical
	// form; the write path stamps it onto the new version row.
	ChangeTimestamp string
}

// SubTransaction tracks the attempt(s) of one pipeline stage for one record.
type SubTransaction struct {
	StageName string
	Status    StageStatus
	// Attempts is the number of times the stage has been started. It never
	// exceeds the configured max-retries.
	Attempts  int
	LastError string
	StartTime *time.Time
	EndTime   *time.Time
	// Result holds the stage output, available to downstream stages.
	Result RowData
}

// NewSubTransaction creates a pending SubTransaction for the given stage.
func NewSubTransaction(stageName string) *SubTransaction {
	return &SubTransaction{
		StageName: stageName,
		Status:    StageStatusPending,
	}
}

// TransitionTo safely transitions the stage state.
func (st *SubTransaction) TransitionTo(next StageStatus) error {
	if !isValidStageTransition(st.Status, next) {
		return fmt.Errorf("sub-transaction '%s': invalid state transition: %s -> %s", st.StageName, st.Status, next)
	}
	st.Status = next
	return nil
}

// RecordTransaction tracks one business record's run through the full stage
// sequence. It is created when its batch starts and discarded when the batch
// completes; only failed records survive, in the failure artifact.
type RecordTransaction struct {
	BusinessKey string
	Status      RecordStatus
	Stages      map[string]*SubTransaction
	// RetryCount is the cumulative number of retries across all stages.
	RetryCount int
	// FailedStage names the stage that exhausted its retries, if any.
	FailedStage string
	LastError   string
	// Snapshot retains the original row, used only for failure reporting.
	Snapshot  RowData
	StartTime time.Time
	EndTime   *time.Time
}

// NewRecordTransaction creates a pending RecordTransaction for the given key.
func NewRecordTransaction(key string, snapshot RowData, now time.Time) *RecordTransaction {
	return &RecordTransaction{
		BusinessKey: key,
		Status:      RecordStatusPending,
		Stages:      make(map[string]*SubTransaction),
		Snapshot:    snapshot,
		StartTime:   now,
	}
}

// TransitionTo safely transitions the record state.
func (rt *RecordTransaction) TransitionTo(next RecordStatus) error {
	if !isValidRecordTransition(rt.Status, next) {
		return fmt.Errorf("record '%s': invalid state transition: %s -> %s", rt.BusinessKey, rt.Status, next)
	}
	rt.Status = next
	return nil
}

// Stage returns the SubTransaction for the named stage, creating a pending
// one on first use.
func (rt *RecordTransaction) Stage(name string) *SubTransaction {
	st, ok := rt.Stages[name]
	if !ok {
		st = NewSubTransaction(name)
		rt.Stages[name] = st
	}
	return st
}

// BatchTransaction is a set of RecordTransactions processed together.
type BatchTransaction struct {
	ID        string
	RunID     string
	Records   map[string]*RecordTransaction
	StartTime time.Time
	EndTime   *time.Time
}

// Progress holds record counts for the active batch plus cumulative totals
// across completed batches.
type Progress struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Pending    int
	// CumulativeCompleted and CumulativeFailed cover archived batches.
	CumulativeCompleted int
	CumulativeFailed    int
}

// Counts returns the live counters of the batch.
func (bt *BatchTransaction) Counts() Progress {
	p := Progress{Total: len(bt.Records)}
	for _, rt := range bt.Records {
		switch rt.Status {
		case RecordStatusSuccess:
			p.Completed++
		case RecordStatusFailed:
			p.Failed++
		case RecordStatusProcessing:
			p.InProgress++
		default:
			p.Pending++
		}
	}
	return p
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	SuccessCount  int
	FailedCount   int
	SkippedCount  int
	InsertedCount int
	UpdatedCount  int
	FailedKeys    []string
	SuccessKeys   []string
	DurationMs    int64
}

// RunStats aggregates record and batch counts for one full run.
type RunStats struct {
	RecordsTotal     int     `json:"recordsTotal"`
	RecordsProcessed int     `json:"recordsProcessed"`
	RecordsInserted  int     `json:"recordsInserted"`
	RecordsUpdated   int     `json:"recordsUpdated"`
	RecordsSkipped   int     `json:"recordsSkipped"`
	RecordsFailed    int     `json:"recordsFailed"`
	BatchesTotal     int     `json:"batchesTotal"`
	BatchesCompleted int     `json:"batchesCompleted"`
	DurationSeconds  float64 `json:"durationSeconds"`
}

// FailureRecord is one permanently failed record, as serialized into the
// failure artifact. LastError is a single message string; stack traces are
// never included.
type FailureRecord struct {
	BusinessKey         string    `json:"businessKey"`
	FailedAtStage       string    `json:"failedAtStage"`
	RetryCount          int       `json:"retryCount"`
	LastError           string    `json:"lastError"`
	OriginalRowSnapshot RowData   `json:"originalRowSnapshot"`
	FailedAt            time.Time `json:"failedAt"`
}

// FailureArtifact is the structured document listing every record that
// exhausted retries, written only when at least one record failed permanently.
type FailureArtifact struct {
	RunID       string          `json:"runId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	TotalFailed int             `json:"totalFailed"`
	Records     []FailureRecord `json:"records"`
}

// Dataset is one normalized tabular snapshot for a data source: the main
// entity's rows keyed by business key, and per dependent table the rows keyed
// by parent business key. Produced by the upstream parser, which is outside
// this engine.
type Dataset struct {
	Source string
	// MainRows maps business key to the main-entity row.
	MainRows map[string]RowData
	// Dependents maps dependent table name to parent business key to rows.
	Dependents map[string]map[string][]RowData
}

// DependentsFor returns the dependent rows of the given table for one parent
// key, or nil when none exist.
func (d *Dataset) DependentsFor(table, parentKey string) []RowData {
	if d.Dependents == nil {
		return nil
	}
	byParent, ok := d.Dependents[table]
	if !ok {
		return nil
	}
	return byParent[parentKey]
}

// Checkpoint marks the last durably committed batch of a run. A resumed run
// reprocesses from the first key after LastCommittedKey; records at or before
// it are never touched again.
type Checkpoint struct {
	RunID            string
	Source           string
	LastCommittedKey string
	BatchIndex       int
	UpdatedAt        time.Time
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
