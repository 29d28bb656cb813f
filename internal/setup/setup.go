package setup

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/rueidis"
	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/database"
	"github.com/sleepsocial/sleepsocial/internal/database/migrations"
	"github.com/sleepsocial/sleepsocial/internal/redis"
	"github.com/sleepsocial/sleepsocial/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config // Application configuration
	Logger       *zap.Logger    // Main application logger
	DB           database.Client
	RedisManager *redis.Manager  // Redis connection manager
	FeedClient   rueidis.Client  // Redis client for the feed cache
	BusClient    rueidis.Client  // Redis client for the event bus streams
	Publisher    *bus.StreamPublisher
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logger, err := NewLogger(cfg.Common.Debug.LogLevel)
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for the feed and bus subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	// Initialize database with migration check
	db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, logger.Named("database"))
	if err != nil {
		return nil, err
	}

	feedClient, err := redisManager.GetClient(redis.FeedDBIndex)
	if err != nil {
		db.Close()
		return nil, err
	}

	busClient, err := redisManager.GetClient(redis.BusDBIndex)
	if err != nil {
		db.Close()
		redisManager.Close()

		return nil, err
	}

	publisher := bus.NewPublisher(busClient, cfg.Worker.Bus.Partitions, logger)

	// Bundle all initialized components
	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		RedisManager: redisManager,
		FeedClient:   feedClient,
		BusClient:    busClient,
		Publisher:    publisher,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(_ context.Context) {
	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	// Close database connections
	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()
}

// checkAndRunMigrations runs database migrations if needed.
func checkAndRunMigrations(ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger) (database.Client, error) {
	tempDB, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(tempDB.DB(), migrations.Migrations)

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	var db database.Client

	unapplied := ms.Unapplied()
	if len(unapplied) > 0 {
		log.Println("Database migrations are pending. Would you like to run them now? (y/N)")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			tempDB.Close()

			db, err = database.NewConnection(ctx, cfg, dbLogger, true)
		} else {
			log.Fatalf("Closing program due to incomplete migrations")
		}
	} else {
		db = tempDB
	}

	return db, err
}
