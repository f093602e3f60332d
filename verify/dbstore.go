package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingRecord 挂起核对的数据库行
// 计划与 schema 序列化为 JSON 存储，类型扩字段时表结构保持稳定
type PendingRecord struct {
	RunID      string    `gorm:"column:run_id;primaryKey;size:64" json:"run_id"`
	Intent     string    `gorm:"type:text" json:"intent"`
	PlanJSON   string    `gorm:"column:plan_json;type:text" json:"plan_json"`
	SchemaJSON string    `gorm:"column:schema_json;type:text" json:"schema_json"`
	State      string    `gorm:"size:32;not null;index" json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
}

func (PendingRecord) TableName() string {
	return "vf_pending_verifications"
}

// DBStore 数据库挂起记录存储
//
// 通过 gorm 落库，使暂停中的核对能跨进程重启恢复。
type DBStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDBStore migrates the backing table and returns the store.
func NewDBStore(db *gorm.DB, logger *zap.Logger) (*DBStore, error) {
	if err := db.AutoMigrate(&PendingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBStore{
		db:     db,
		logger: logger.With(zap.String("component", "verification_store")),
	}, nil
}

// Save implements Store.
func (s *DBStore) Save(ctx context.Context, p *Pending) error {
	rec, err := toRecord(p)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("save pending verification: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *DBStore) Load(ctx context.Context, runID string) (*Pending, error) {
	var rec PendingRecord
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pending verification not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending verification: %w", err)
	}
	return rec.toPending()
}

// Update implements Store. Same upsert semantics as Save; the run id is
// the primary key.
func (s *DBStore) Update(ctx context.Context, p *Pending) error {
	return s.Save(ctx, p)
}

// Delete implements Store. Missing rows are not an error.
func (s *DBStore) Delete(ctx context.Context, runID string) error {
	if err := s.db.WithContext(ctx).Delete(&PendingRecord{}, "run_id = ?", runID).Error; err != nil {
		return fmt.Errorf("delete pending verification: %w", err)
	}
	return nil
}

// PurgeExpired removes pending rows whose edit window passed before now.
// Resolved rows are kept for audit. Called from the server janitor.
func (s *DBStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("state = ? AND expires_at < ?", string(StatePending), now).
		Delete(&PendingRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("purge expired verifications: %w", tx.Error)
	}
	if tx.RowsAffected > 0 {
		s.logger.Info("expired verifications purged", zap.Int64("count", tx.RowsAffected))
	}
	return tx.RowsAffected, nil
}

func toRecord(p *Pending) (*PendingRecord, error) {
	planJSON, err := json.Marshal(p.Plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan for run %s: %w", p.RunID, err)
	}
	schemaJSON, err := json.Marshal(p.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema for run %s: %w", p.RunID, err)
	}
	return &PendingRecord{
		RunID:      p.RunID,
		Intent:     p.Intent,
		PlanJSON:   string(planJSON),
		SchemaJSON: string(schemaJSON),
		State:      string(p.State),
		CreatedAt:  p.CreatedAt,
		ExpiresAt:  p.ExpiresAt,
	}, nil
}

func (r *PendingRecord) toPending() (*Pending, error) {
	p := &Pending{
		RunID:     r.RunID,
		Intent:    r.Intent,
		State:     State(r.State),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if r.PlanJSON != "" {
		if err := json.Unmarshal([]byte(r.PlanJSON), &p.Plan); err != nil {
			return nil, fmt.Errorf("decode plan for run %s: %w", r.RunID, err)
		}
	}
	if r.SchemaJSON != "" {
		if err := json.Unmarshal([]byte(r.SchemaJSON), &p.Schema); err != nil {
			return nil, fmt.Errorf("decode schema for run %s: %w", r.RunID, err)
		}
	}
	return p, nil
}

// TieredStore pairs the in-process map with a persistent store: writes go
// to the database first, reads hit memory and fall back to the database,
// backfilling memory. After a restart the memory tier is empty and pending
// verifications resurface from the database.
type TieredStore struct {
	memory Store
	db     Store
	logger *zap.Logger
}

// NewTieredStore composes a memory tier over a persistent tier.
func NewTieredStore(memory, db Store, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{
		memory: memory,
		db:     db,
		logger: logger.With(zap.String("component", "verification_store")),
	}
}

// Save implements Store. The database is authoritative; a memory tier
// failure only logs.
func (s *TieredStore) Save(ctx context.Context, p *Pending) error {
	if err := s.db.Save(ctx, p); err != nil {
		return err
	}
	if err := s.memory.Save(ctx, p); err != nil {
		s.logger.Warn("memory tier save failed", zap.String("run_id", p.RunID), zap.Error(err))
	}
	return nil
}

// Load implements Store.
func (s *TieredStore) Load(ctx context.Context, runID string) (*Pending, error) {
	if p, err := s.memory.Load(ctx, runID); err == nil {
		return p, nil
	}
	p, err := s.db.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if warmErr := s.memory.Save(ctx, p); warmErr != nil {
		s.logger.Warn("memory tier backfill failed", zap.String("run_id", runID), zap.Error(warmErr))
	}
	return p, nil
}

// Update implements Store.
func (s *TieredStore) Update(ctx context.Context, p *Pending) error {
	if err := s.db.Update(ctx, p); err != nil {
		return err
	}
	if err := s.memory.Update(ctx, p); err != nil {
		s.logger.Warn("memory tier update failed", zap.String("run_id", p.RunID), zap.Error(err))
	}
	return nil
}

// Delete implements Store.
func (s *TieredStore) Delete(ctx context.Context, runID string) error {
	memErr := s.memory.Delete(ctx, runID)
	if err := s.db.Delete(ctx, runID); err != nil {
		return err
	}
	return memErr
}
