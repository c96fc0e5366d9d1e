package app

import (
	"fmt"
	"log/slog"
	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/logger"
	"subscription-cycle-sync/internal/repository"
	"subscription-cycle-sync/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// App holds the wired services shared by the HTTP server and the CLI.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	SyncService    service.SyncService
	WebhookService service.WebhookService
}

// LoadConfig reads .env (if present) into the environment and parses it.
func LoadConfig() (*config.Config, error) {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// New opens the database, applies the schema and builds the services.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(cfg.Log).With("shop", cfg.Shop.Name)
	slog.SetDefault(log)

	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := client.Migrate(db); err != nil {
		return nil, err
	}

	shopifyClient := client.NewShopifyClient(cfg.Shop, cfg.Sync)

	cycleRepo := repository.NewCycleRepository(db)
	syncRunRepo := repository.NewSyncRunRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	resolver := service.NewCycleResolver(cfg.Shop, shopifyClient, cycleRepo)
	tagger := service.NewTagService(shopifyClient, cfg.Sync, log)

	return &App{
		Config: cfg,
		Logger: log,
		DB:     db,
		SyncService: service.NewSyncService(
			cfg.Shop, cfg.Sync,
			shopifyClient,
			resolver,
			tagger,
			cycleRepo,
			syncRunRepo,
			log,
		),
		WebhookService: service.NewWebhookService(
			cfg.Shop, cfg.Sync,
			shopifyClient,
			resolver,
			tagger,
			cycleRepo,
			webhookEventRepo,
			log,
		),
	}, nil
}

func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
