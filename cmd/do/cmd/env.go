package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/db"
	"github.com/armiapp/armi/internal/logger"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/storage"
)

// env is what the admin commands need from the running service's config.
type env struct {
	cfg      *config.Config
	db       *sqlx.DB
	users    *service.UserService
	profiles *service.ProfileService
	tokens   repository.TokenRepository
	flush    func()
}

func openEnv() (*env, error) {
	cfg := config.Load()
	flush := logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)

	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		flush()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &env{
		cfg:      cfg,
		db:       database,
		users:    service.NewUserService(repository.NewUserRepository(database)),
		profiles: service.NewProfileService(repository.NewProfileRepository(database)),
		tokens:   repository.NewTokenRepository(database),
		flush:    flush,
	}, nil
}

func (e *env) close() {
	err := db.Close(e.db)
	if err != nil {
		slog.Error("failed to close database", "error", err)
	}
	e.flush()
}

func (e *env) flags() (storage.FlagStore, error) {
	return storage.New(e.cfg, e.db)
}

func (e *env) userByEmail(email string) (*model.User, error) {
	user, err := e.users.ByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("no user with email %s: %w", email, err)
	}
	return user, nil
}
