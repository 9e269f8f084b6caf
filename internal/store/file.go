package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/rundeck/internal/config"
	"github.com/dshills/rundeck/internal/runconfig"
)

// FileStore keeps the document in a JSON file.
type FileStore struct {
	path string
}

// DefaultFilePath returns the default JSON document location.
func DefaultFilePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get reads the document. A missing file yields an empty document.
func (s *FileStore) Get() (runconfig.AppConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return normalize(runconfig.AppConfig{}), nil
		}
		return runconfig.AppConfig{}, fmt.Errorf("reading %s: %w", s.path, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return runconfig.AppConfig{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return cfg, nil
}

// Set writes the document through a temporary file and a rename, so
// readers never observe a partial write.
func (s *FileStore) Set(cfg runconfig.AppConfig) error {
	data, err := encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
