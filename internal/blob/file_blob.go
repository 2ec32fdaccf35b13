package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists each collection as <dir>/<collection>.json. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// half-written payload behind.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob: data directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *FileStore) Load(_ context.Context, collection string) ([]byte, error) {
	payload, err := os.ReadFile(s.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoPayload
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *FileStore) Save(_ context.Context, collection string, payload []byte) error {
	target := s.path(collection)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (s *FileStore) Close() error {
	return nil
}
