package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStorage keeps encoded tables in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	tables map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tables: make(map[string][]byte),
	}
}

func (s *MemoryStorage) Load(ctx context.Context, table string, dst any) error {
	s.mu.RLock()
	data, exists := s.tables[table]
	s.mu.RUnlock()

	if !exists {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode table %s: %w", table, err)
	}
	return nil
}

func (s *MemoryStorage) Save(ctx context.Context, table string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode table %s: %w", table, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[table] = data
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
