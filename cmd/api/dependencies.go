package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/handler"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"

	"github.com/FACorreiaa/skyparts-market/pkg/ai"
	"github.com/FACorreiaa/skyparts-market/pkg/config"
	"github.com/FACorreiaa/skyparts-market/pkg/cron"
	"github.com/FACorreiaa/skyparts-market/pkg/db"
	"github.com/FACorreiaa/skyparts-market/pkg/notify"
	"github.com/FACorreiaa/skyparts-market/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config   *config.Config
	DB       *db.DB
	Logger   *slog.Logger
	Registry *prometheus.Registry

	// Repositories
	IngestionRepo *repository.PostgresRepository

	// Services
	AIClient         *ai.Client // nil when no Gemini key is configured
	FileStorage      storage.Storage
	Parser           *parser.Parser
	Mapper           *mapper.Mapper
	Matcher          *matcher.Matcher
	IngestionService *service.IngestionService
	Scheduler        *cron.Scheduler

	// Handlers
	Authenticator    *handler.Authenticator
	IngestionHandler *handler.IngestionHandler
	IngestionRPC     *handler.IngestionRPC
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.IngestionRepo = repository.NewPostgresRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	cfg := d.Config
	ing := cfg.Ingestion

	fileStorage, err := storage.New(&storage.Config{
		Type:      storage.StorageTypeLocal,
		LocalPath: cfg.Storage.LocalPath,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	// Gemini backs PDF/Pages extraction and the AI mapping phase
	var completer interface {
		parser.Completer
		mapper.Completer
	}
	if cfg.AIEnabled() {
		d.AIClient = ai.NewClient(ai.Config{
			APIKey:            cfg.Gemini.APIKey,
			Model:             cfg.Gemini.Model,
			Timeout:           cfg.Gemini.Timeout,
			RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		})
		completer = d.AIClient
	} else {
		d.Logger.Warn("GEMINI_API_KEY not set, AI extraction and mapping disabled")
	}

	d.Parser = parser.New(parser.Config{
		MaxFileSize:    ing.MaxFileSizeBytes,
		MaxRows:        ing.MaxRows,
		MaxAITextChars: ing.MaxAITextChars,
	}, d.FileStorage, completer, d.Logger)

	d.Mapper = mapper.New(mapper.Config{
		EnableAI:       ing.EnableAIMapping && cfg.AIEnabled(),
		AITimeout:      ing.AITimeout,
		FuzzyThreshold: ing.ColumnFuzzyMin,
		MaxSampleRows:  5,
	}, completer, d.Logger)

	d.Matcher = matcher.New(d.IngestionRepo, matcher.Config{
		MatchThreshold:             ing.MatchThreshold,
		FuzzyPartThreshold:         ing.PartFuzzyMin,
		MinApplicabilityConfidence: ing.ApplicabilityMin,
	}, d.Logger)

	d.IngestionService = service.NewIngestionService(
		d.IngestionRepo,
		d.Parser,
		d.Mapper,
		newCatalogAdapter(d.Matcher),
		service.Config{
			ChunkSize:        ing.ChunkSize,
			MatchThreshold:   ing.MatchThreshold,
			DefaultCurrency:  ing.DefaultCurrency,
			DefaultCondition: ing.DefaultCondition,
		},
		d.Logger,
	).WithNotifier(notify.NewEmailNotifier(cfg.Resend.APIKey, cfg.Resend.FromEmail, cfg.Server.BaseURL, d.Logger))

	if cfg.Observability.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := service.NewMetrics(d.Registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		d.IngestionService.WithMetrics(metrics)
	}

	d.Scheduler = cron.NewScheduler(d.Matcher, ing.CatalogRefreshSpec, d.Logger)

	d.Logger.Info("services initialized",
		slog.Bool("ai_enabled", cfg.AIEnabled()),
		slog.Bool("metrics_enabled", cfg.Observability.MetricsEnabled),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	jwtSecret := []byte(d.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		return fmt.Errorf("jwt secret is required")
	}

	d.Authenticator = handler.NewAuthenticator(jwtSecret, d.Config.Auth.AdminRole, d.Logger)
	d.IngestionHandler = handler.NewIngestionHandler(
		d.IngestionService,
		d.FileStorage,
		d.Authenticator,
		d.Config.Server.MaxUploadBytes,
		d.Logger,
	)
	d.IngestionRPC = handler.NewIngestionRPC(
		d.IngestionService,
		d.FileStorage,
		d.Authenticator,
		d.Config.Server.MaxUploadBytes,
		d.Logger,
	)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
