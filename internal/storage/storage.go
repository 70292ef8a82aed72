package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/repository"
)

// FlagStore is the key-value store behind persisted onboarding flags.
type FlagStore interface {
	// Get returns ok=false for an absent key; err is reserved for store failures.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// New picks Redis when REDIS_URL is configured and the database otherwise.
func New(cfg *config.Config, database *sqlx.DB) (FlagStore, error) {
	if cfg.RedisURL != "" {
		store, err := NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis flag store: %w", err)
		}
		slog.Info("flag store initialized", "backend", "redis")
		return store, nil
	}

	slog.Info("flag store initialized", "backend", "database")
	return repository.NewFlagRepository(database), nil
}
