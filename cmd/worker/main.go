package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripline/internal/cache"
	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/google"
	"tripline/internal/logging"
	"tripline/internal/metrics"
	"tripline/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Standalone queue consumer. Runs against the same sqlite ledger and
// redis queue as the API process; each delivery is claimed atomically
// in the job table, so running both consumers at once is safe.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient := initRedis(ctx, cfg, &logger)
	cacheService := initCache(redisClient, &logger)

	var sheetsPusher worker.SheetsPusher
	if svc := initGoogleSheets(ctx, cfg, &logger); svc != nil {
		sheetsPusher = svc
	}

	dispatcher := worker.NewDispatcher(db, cacheService, sheetsPusher, redisClient, worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  time.Duration(cfg.Worker.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Worker.MaxDelaySeconds) * time.Second,
		BackoffFactor: cfg.Worker.BackoffFactor,
	}, &logger)
	dispatcher.SetPollInterval(time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second)
	dispatcher.SetBatchSize(cfg.Worker.BatchSize)

	dispatcher.Start(ctx)
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis address not configured, consuming from DB queue only")
		return nil
	}

	client := cache.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable at startup")
	}
	return client
}

func initCache(redisClient *redis.Client, logger *zerolog.Logger) *cache.Cache {
	memory := cache.NewMemoryStore()
	if redisClient == nil {
		return cache.New(memory, logger)
	}
	return cache.New(cache.NewFailoverStore(cache.NewRedisStore(redisClient), memory, logger), logger)
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return nil
	}

	svc, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID)
	if err != nil {
		logger.Error().Err(err).Msg("google sheets init error, rollup export disabled")
		return nil
	}
	return svc
}
