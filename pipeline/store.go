package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/visionflow/types"
)

// Run is one pipeline run as persisted for status queries.
type Run struct {
	ID        string
	Intent    string
	Status    types.Status
	Schema    *types.UISchema
	Plan      *types.ActionPlan
	Execution *types.ExecutionResult
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so store reads and writes never alias the
// caller's run.
func (r *Run) Clone() *Run {
	out := *r
	if r.Schema != nil {
		out.Schema = r.Schema.Clone()
	}
	if r.Plan != nil {
		out.Plan = r.Plan.Clone()
	}
	if r.Execution != nil {
		ex := *r.Execution
		ex.Log = make([]types.StepOutcome, len(r.Execution.Log))
		copy(ex.Log, r.Execution.Log)
		if r.Execution.FinalURL != nil {
			u := *r.Execution.FinalURL
			ex.FinalURL = &u
		}
		if r.Execution.ScreenshotRef != nil {
			s := *r.Execution.ScreenshotRef
			ex.ScreenshotRef = &s
		}
		out.Execution = &ex
	}
	return &out
}

// RunStore persists run records. SaveRun is an upsert keyed by run id.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
}

// MemoryRunStore 进程内运行记录，重启后丢失。
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// SaveRun stores a copy of the run.
func (s *MemoryRunStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the stored run.
func (s *MemoryRunStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run.Clone(), nil
}

// RunRecord is the database row for one run. Schema, plan and execution
// report are stored as JSON text so type changes do not ripple into DDL.
type RunRecord struct {
	RunID         string    `gorm:"column:run_id;primaryKey;size:64"`
	Intent        string    `gorm:"type:text"`
	Status        string    `gorm:"size:32;not null;index"`
	SchemaJSON    string    `gorm:"column:schema_json;type:text"`
	PlanJSON      string    `gorm:"column:plan_json;type:text"`
	ExecutionJSON string    `gorm:"column:execution_json;type:text"`
	Message       string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (RunRecord) TableName() string {
	return "vf_pipeline_runs"
}

// DBRunStore persists run records through gorm.
type DBRunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDBRunStore creates the store and migrates its table.
func NewDBRunStore(db *gorm.DB, logger *zap.Logger) (*DBRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &DBRunStore{
		db:     db,
		logger: logger.With(zap.String("component", "run_store")),
	}, nil
}

// SaveRun upserts the run row.
func (s *DBRunStore) SaveRun(ctx context.Context, run *Run) error {
	rec, err := toRunRecord(run)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run row.
func (s *DBRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return toRun(&rec)
}

func toRunRecord(run *Run) (*RunRecord, error) {
	rec := &RunRecord{
		RunID:     run.ID,
		Intent:    run.Intent,
		Status:    string(run.Status),
		Message:   run.Message,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.Schema != nil {
		data, err := json.Marshal(run.Schema)
		if err != nil {
			return nil, fmt.Errorf("encode schema for run %s: %w", run.ID, err)
		}
		rec.SchemaJSON = string(data)
	}
	if run.Plan != nil {
		data, err := json.Marshal(run.Plan)
		if err != nil {
			return nil, fmt.Errorf("encode plan for run %s: %w", run.ID, err)
		}
		rec.PlanJSON = string(data)
	}
	if run.Execution != nil {
		data, err := json.Marshal(run.Execution)
		if err != nil {
			return nil, fmt.Errorf("encode execution for run %s: %w", run.ID, err)
		}
		rec.ExecutionJSON = string(data)
	}
	return rec, nil
}

func toRun(rec *RunRecord) (*Run, error) {
	run := &Run{
		ID:        rec.RunID,
		Intent:    rec.Intent,
		Status:    types.Status(rec.Status),
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.SchemaJSON != "" {
		run.Schema = &types.UISchema{}
		if err := json.Unmarshal([]byte(rec.SchemaJSON), run.Schema); err != nil {
			return nil, fmt.Errorf("decode schema for run %s: %w", rec.RunID, err)
		}
	}
	if rec.PlanJSON != "" {
		run.Plan = &types.ActionPlan{}
		if err := json.Unmarshal([]byte(rec.PlanJSON), run.Plan); err != nil {
			return nil, fmt.Errorf("decode plan for run %s: %w", rec.RunID, err)
		}
	}
	if rec.ExecutionJSON != "" {
		run.Execution = &types.ExecutionResult{}
		if err := json.Unmarshal([]byte(rec.ExecutionJSON), run.Execution); err != nil {
			return nil, fmt.Errorf("decode execution for run %s: %w", rec.RunID, err)
		}
	}
	return run, nil
}
