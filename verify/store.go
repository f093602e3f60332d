package verify

import (
	"context"
	"fmt"
	"sync"
)

// Store persists pending verifications. Implementations must be safe for
// concurrent use; Save and Update are upserts keyed by run id.
type Store interface {
	Save(ctx context.Context, p *Pending) error
	Load(ctx context.Context, runID string) (*Pending, error)
	Update(ctx context.Context, p *Pending) error
	Delete(ctx context.Context, runID string) error
}

// MemoryStore 内存挂起记录存储
//
// 进程内 map，重启后丢失；需要跨重启恢复时配合 DBStore 使用。
type MemoryStore struct {
	pending map[string]*Pending
	mu      sync.RWMutex
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]*Pending)}
}

// Save implements Store. The stored record is a clone, so later mutation
// of the argument does not leak into the store.
func (s *MemoryStore) Save(ctx context.Context, p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.RunID] = p.Clone()
	return nil
}

// Load implements Store, returning a clone of the stored record.
func (s *MemoryStore) Load(ctx context.Context, runID string) (*Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pending[runID]
	if !ok {
		return nil, fmt.Errorf("pending verification not found: %s", runID)
	}
	return p.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.RunID] = p.Clone()
	return nil
}

// Delete implements Store. Missing records are not an error.
func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, runID)
	return nil
}
