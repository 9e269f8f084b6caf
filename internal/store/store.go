// Package store persists run configurations.
//
// A Store reads and writes the whole AppConfig document. FileStore keeps
// it as pretty-printed JSON; BoltStore keeps it in a bolt database. Catalog
// layers editing operations and debounced persistence on top of a Store.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/rundeck/internal/runconfig"
)

// Store errors.
var (
	ErrNotFound      = errors.New("configuration not found")
	ErrDuplicateID   = errors.New("duplicate configuration id")
	ErrFolderMissing = errors.New("folder not found")
	ErrInvalidOrder  = errors.New("order must list every configuration exactly once")
	ErrClosed        = errors.New("store closed")
)

// Store loads and saves the configuration document.
type Store interface {
	Get() (runconfig.AppConfig, error)
	Set(cfg runconfig.AppConfig) error
	Close() error
}

func encode(cfg runconfig.AppConfig) ([]byte, error) {
	data, err := json.MarshalIndent(normalize(cfg), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding configs: %w", err)
	}
	return data, nil
}

func decode(data []byte) (runconfig.AppConfig, error) {
	var cfg runconfig.AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return runconfig.AppConfig{}, fmt.Errorf("decoding configs: %w", err)
	}
	return normalize(cfg), nil
}

// normalize replaces nil collections so the document always encodes
// arrays and objects, never null.
func normalize(cfg runconfig.AppConfig) runconfig.AppConfig {
	if cfg.Configs == nil {
		cfg.Configs = []runconfig.RunConfig{}
	}
	if cfg.Folders == nil {
		cfg.Folders = []runconfig.Folder{}
	}
	if cfg.ConfigOrder == nil {
		cfg.ConfigOrder = []string{}
	}
	for i := range cfg.Configs {
		if cfg.Configs[i].Env == nil {
			cfg.Configs[i].Env = map[string]string{}
		}
		if cfg.Configs[i].Args == nil {
			cfg.Configs[i].Args = []string{}
		}
	}
	return cfg
}
