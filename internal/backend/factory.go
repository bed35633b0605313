package backend

import (
	"context"
	"log/slog"

	"ganancias/internal/storage"
)

// DefaultFactory opens sqlite, badger or in-memory stores.
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) CreateBackend(_ context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Opened sqlite store", "db_path", config.SQLiteDBPath)
		return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
	case BadgerBackend:
		repo, err := storage.NewBadgerRepository(config.BadgerDir)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Opened badger store", "dir", config.BadgerDir)
		return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
	default:
		f.logger.Warn("Using in-memory store, collections will not survive a restart")
		return &BackendResult{Store: storage.NewMemoryRepository()}, nil
	}
}
