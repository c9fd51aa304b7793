package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tripline/internal/api"
	"tripline/internal/cache"
	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/events"
	"tripline/internal/export"
	"tripline/internal/google"
	"tripline/internal/logging"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/service"
	"tripline/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, trips, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, trips, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	startMetricsServer(cfg, logger)

	redisClient := initRedis(ctx, cfg, logger)
	cacheService := initCache(redisClient, logger)

	// Typed nil must not leak into the interface, the dispatcher checks
	// for nil to decide whether export jobs can run.
	var sheetsPusher worker.SheetsPusher
	if sheetsService := initGoogleSheets(ctx, cfg, logger); sheetsService != nil {
		sheetsPusher = sheetsService
	}

	dispatcher := worker.NewDispatcher(db, cacheService, sheetsPusher, redisClient, retryPolicy(cfg), logger)
	dispatcher.SetPollInterval(time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second)
	dispatcher.SetBatchSize(cfg.Worker.BatchSize)
	go dispatcher.Start(ctx)

	eventBus := events.NewEventBus()
	subscribeBookingEvents(eventBus, logger)

	// Инициализация бизнес-сервисов
	bookingService := service.NewBookingService(db, cacheService, dispatcher, eventBus, cfg.Cache.BookingTTL(), logger)
	tripService := service.NewTripService(db, cacheService, eventBus, cfg.Cache.TripTTL(), logger)
	analyticsService := service.NewAnalyticsService(db, cacheService, cfg.Cache.DashboardTTL(), logger)
	exporter := export.NewExcelExporter(db, cfg.Exports.Path, logger)

	apiServer := api.NewHTTPServer(cfg.API, bookingService, tripService, analyticsService, exporter, dispatcher, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

func loadConfigAndLogger() (*config.Config, []models.Trip, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	tripsPath := os.Getenv("TRIPS_PATH")
	if tripsPath == "" {
		tripsPath = "configs/trips.yaml"
	}
	trips, err := loadTripCatalog(tripsPath)
	if err != nil {
		logger.Error().Err(err).Str("path", tripsPath).Msg("Ошибка чтения каталога туров")
		return nil, nil, nil, closer, err
	}

	return cfg, trips, &logger, closer, nil
}

// loadTripCatalog читает стартовый каталог туров из YAML файла.
func loadTripCatalog(path string) ([]models.Trip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var catalog struct {
		Trips []models.Trip `yaml:"trips"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return catalog.Trips, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("Ошибка создания директории для экспорта")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, trips []models.Trip, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	if len(trips) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.SeedTrips(ctx, trips); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

// initRedis returns nil when redis is unreachable; the cache falls back
// to memory and the queue to DB polling.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis address not configured, using in-memory cache only")
		return nil
	}

	client := cache.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable at startup, failover store will retry")
	}
	return client
}

func initCache(redisClient *redis.Client, logger *zerolog.Logger) *cache.Cache {
	memory := cache.NewMemoryStore()
	if redisClient == nil {
		return cache.New(memory, logger)
	}
	store := cache.NewFailoverStore(cache.NewRedisStore(redisClient), memory, logger)
	return cache.New(store, logger)
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		logger.Info().Msg("google sheets not configured, rollup export disabled")
		return nil
	}

	svc, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID)
	if err != nil {
		logger.Error().Err(err).Msg("google sheets init error, rollup export disabled")
		return nil
	}

	if err := svc.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed")
	}
	return svc
}

func retryPolicy(cfg *config.Config) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  time.Duration(cfg.Worker.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Worker.MaxDelaySeconds) * time.Second,
		BackoffFactor: cfg.Worker.BackoffFactor,
	}
}

func subscribeBookingEvents(bus *events.EventBus, logger *zerolog.Logger) {
	logEvent := func(event *events.Event) error {
		logger.Info().
			Str("event_type", event.Type).
			RawJSON("payload", event.Payload).
			Msg("booking event")
		return nil
	}
	bus.Subscribe(events.EventBookingCreated, logEvent)
	bus.Subscribe(events.EventBookingConfirmed, logEvent)
	bus.Subscribe(events.EventBookingCancelled, logEvent)
	bus.Subscribe(events.EventBookingDeleted, logEvent)
}

func startMetricsServer(cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
