package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage writes one JSON document per table under dir.
// Writes go to a temp file in the same directory which is then renamed
// over the target, so a crash never leaves a truncated table behind.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating state directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(table string) string {
	return filepath.Join(s.dir, table+".json")
}

func (s *FileStorage) Load(ctx context.Context, table string, dst any) error {
	data, err := os.ReadFile(s.path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read table %s: %w", table, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode table %s: %w", table, err)
	}
	return nil
}

func (s *FileStorage) Save(ctx context.Context, table string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode table %s: %w", table, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, table+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", table, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write table %s: %w", table, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync table %s: %w", table, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table %s: %w", table, err)
	}
	if err := os.Rename(tmpName, s.path(table)); err != nil {
		return fmt.Errorf("replace table %s: %w", table, err)
	}
	return nil
}

func (s *FileStorage) Close() error {
	return nil
}
