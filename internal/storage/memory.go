package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rohankatakam/careops/internal/models"
)

// MemoryStore keeps records in process memory. Records are deep-copied on
// the way in and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*models.ExecutionRecord
	history    []*models.ExecutionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*models.ExecutionRecord)}
}

func clone(rec *models.ExecutionRecord) (*models.ExecutionRecord, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out models.ExecutionRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) SaveExecution(_ context.Context, rec *models.ExecutionRecord) error {
	c, err := clone(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.executions[rec.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, rec *models.ExecutionRecord) error {
	c, err := clone(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.history = append(m.history, c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*models.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.executions[id]; ok {
		return clone(rec)
	}
	for _, rec := range m.executions {
		if rec.ActionID == id {
			return clone(rec)
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListHistory(_ context.Context, filter HistoryFilter) ([]*models.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.limit()
	out := make([]*models.ExecutionRecord, 0)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.history[i]
		if filter.Agent != "" && rec.Agent != filter.Agent {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		c, err := clone(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	for _, rec := range m.history {
		tally(&st, rec)
	}
	return st, nil
}

func (m *MemoryStore) Close() error { return nil }
