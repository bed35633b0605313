// Package backend opens the key-value store selected by DATA_BACKEND.
package backend

import (
	"context"
	"fmt"

	"ganancias/internal/config"
	"ganancias/internal/storage"
)

// Kind names a storage engine.
type Kind string

const (
	SQLiteBackend Kind = "sqlite"
	BadgerBackend Kind = "badger"
	MemoryBackend Kind = "memory"
)

var kinds = []Kind{SQLiteBackend, BadgerBackend, MemoryBackend}

func (k Kind) String() string { return string(k) }

// IsValid reports whether k is one of the supported engines.
func (k Kind) IsValid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// BackendResult is an open store plus the function that releases it.
// Cleanup is nil for engines that hold no resources.
type BackendResult struct {
	Store   storage.KV
	Cleanup func() error
}

// Factory opens a store for a Config.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config selects an engine and carries its location.
type Config struct {
	Type         Kind
	SQLiteDBPath string
	BadgerDir    string
}

// FromAppConfig picks the engine fields out of the application config.
func FromAppConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}
	kind := Kind(cfg.DataBackend)
	if !kind.IsValid() {
		return Config{}, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
	return Config{Type: kind, SQLiteDBPath: cfg.SQLiteDBPath, BadgerDir: cfg.BadgerDir}, nil
}

// Validate checks that the selected engine has a location when it needs one.
func (c Config) Validate() error {
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("sqlite backend needs a database path")
		}
	case BadgerBackend:
		if c.BadgerDir == "" {
			return fmt.Errorf("badger backend needs a directory")
		}
	case MemoryBackend:
	default:
		return fmt.Errorf("unknown data backend %q", c.Type)
	}
	return nil
}

// GetBackendTypeStrings lists the accepted DATA_BACKEND values.
func GetBackendTypeStrings() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}
