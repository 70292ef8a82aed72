package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/armiapp/armi/internal/config"
	"github.com/armiapp/armi/internal/db"
	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/onboarding"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/service/payment"
	"github.com/armiapp/armi/internal/storage"
	"github.com/armiapp/armi/internal/validation"
)

type App struct {
	Cfg                 *config.Config
	DB                  *sqlx.DB
	Registry            *prometheus.Registry
	Metrics             *metrics.Collector
	Flags               storage.FlagStore
	Validator           *validation.Validator
	AuthService         *service.AuthService
	UserService         *service.UserService
	ProfileService      *service.ProfileService
	EmailService        *service.EmailService
	SubscriptionService *service.SubscriptionService
	PurchaseService     *service.PurchaseService
	EntitlementResolver *service.EntitlementResolver
	DevNoteService      *service.DevNoteService
	Coordinator         *onboarding.Coordinator
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector(registry)
	}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	profileRepository := repository.NewProfileRepository(database)
	tokenRepository := repository.NewTokenRepository(database)
	subscriptionRepository := repository.NewSubscriptionRepository(database)

	// Flag storage
	flags, err := storage.New(cfg, database)
	if err != nil {
		return nil, err
	}

	// Services
	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	subscriptionService := service.NewSubscriptionService(subscriptionRepository)

	// Initialize payment provider based on config
	paymentProvider, err := payment.NewProvider(cfg, subscriptionService)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment provider: %w", err)
	}
	purchaseService := service.NewPurchaseService(paymentProvider, subscriptionService, cfg.EntitlementIDs, payment.Offering(cfg))

	profileService := service.NewProfileService(profileRepository)
	authService := service.NewAuthService(
		userRepository,
		profileRepository,
		tokenRepository,
		subscriptionService,
		emailService,
		purchaseService,
		service.NewAuthEvents(),
		cfg.JWTSecret,
		cfg.JWTExpiry,
		cfg.TokenEmailVerifyExpiry,
		cfg.TokenPasswordResetExpiry,
		cfg.TokenEmailChangeExpiry,
	)
	userService := service.NewUserService(userRepository)
	resolver := service.NewEntitlementResolver(profileService, purchaseService, cfg.EntitlementIDs, collector)
	devNoteService := service.NewDevNoteService(cfg.ContentPath)
	coordinator := onboarding.NewCoordinator(resolver, flags, collector)

	return &App{
		Cfg:                 cfg,
		DB:                  database,
		Registry:            registry,
		Metrics:             collector,
		Flags:               flags,
		Validator:           validation.NewValidator(),
		AuthService:         authService,
		UserService:         userService,
		ProfileService:      profileService,
		EmailService:        emailService,
		SubscriptionService: subscriptionService,
		PurchaseService:     purchaseService,
		EntitlementResolver: resolver,
		DevNoteService:      devNoteService,
		Coordinator:         coordinator,
	}, nil
}

// Start runs the onboarding coordinator on the auth event stream. It returns
// once the coordinator has stopped, after Close or when ctx is done.
func (a *App) Start(ctx context.Context) error {
	events, unsubscribe, err := a.AuthService.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to auth events: %w", err)
	}
	defer unsubscribe()

	a.Coordinator.Run(ctx, events)
	return nil
}

func (a *App) Close() error {
	a.AuthService.Close()

	if closer, ok := a.Flags.(interface{ Close() error }); ok {
		err := closer.Close()
		if err != nil {
			slog.Error("failed to close flag store", "error", err)
		}
	}

	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
