// Package factory builds backend instances from configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"

	"finanzas/internal/backend"
	"finanzas/internal/memory"
	"finanzas/internal/storage"
)

type DefaultFactory struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend builds the backend selected by config, returning the
// instance and its cleanup function.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config backend.Config) (*backend.Result, error) {
	if !config.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", config.Type)
	}

	switch config.Type {
	case backend.SQLiteBackend:
		return f.createSQLiteBackend(config)
	case backend.MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config backend.Config) (*backend.Result, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &backend.Result{
		Backend: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*backend.Result, error) {
	store := memory.New()

	f.logger.Info("Initialized memory backend")

	return &backend.Result{
		Backend: store,
		Cleanup: nil,
	}, nil
}
