package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"therapycore/internal/api"
	"therapycore/internal/config"
	"therapycore/internal/database"
	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/export"
	"therapycore/internal/google"
	"therapycore/internal/lock"
	"therapycore/internal/logging"
	"therapycore/internal/metrics"
	"therapycore/internal/notify"
	"therapycore/internal/service"
	"therapycore/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics.Register()

	var locker domain.Locker = lock.NewMemoryLocker()
	if redisClient != nil {
		locker = lock.NewFailoverLocker(lock.NewRedisLocker(redisClient, cfg.Scheduling.LockTTL), locker, &logger)
	}

	eventBus := events.NewEventBus(&logger)

	var syncWorker *worker.LedgerSyncWorker
	if sheet := initLedgerSheet(ctx, cfg, &logger); sheet != nil {
		syncWorker = worker.NewLedgerSyncWorker(db, sheet, redisClient, worker.DefaultRetryPolicy(), &logger)
		subscribeLedgerEvents(eventBus, syncWorker)
		go syncWorker.Start(ctx)
	}

	if notifier := initNotifier(cfg, &logger); notifier != nil {
		notifier.Subscribe(eventBus)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	provision := domain.ProvisionRequest{
		Timezone:     cfg.Scheduling.DefaultTimezone,
		SessionPrice: cfg.SessionPrice(),
	}
	exporter := export.NewStatementExporter(cfg.Exports.Path, &logger)

	svc := &api.Services{
		Applications: service.NewApplicationService(db, eventBus, cfg.Review.FastTrackSpecializations, provision, &logger),
		Providers:    service.NewProviderService(db, nil, &logger),
		Availability: service.NewAvailabilityService(db, &logger),
		Booking:      service.NewBookingService(db, locker, eventBus, cfg.Scheduling.LockTTL, &logger),
		Ledger:       service.NewLedgerService(db, locker, eventBus, exporter, cfg.Scheduling.LockTTL, &logger),
	}
	if syncWorker != nil {
		svc.DeadLetters = syncWorker
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, svc, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	httpServer := api.NewHTTPServer(cfg.API, svc, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	retry := database.RetryPolicy{
		MaxAttempts:  cfg.Scheduling.StorageRetry.MaxAttempts,
		InitialDelay: cfg.Scheduling.StorageRetry.InitialDelay,
		MaxDelay:     cfg.Scheduling.StorageRetry.MaxDelay,
	}
	db, err := database.NewDB(cfg.Database.Path, logger,
		database.WithRetryPolicy(retry),
		database.WithBusyTimeout(cfg.Database.BusyTimeout),
	)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := lock.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		// locks fall back to memory, dead letters stay in sqlite only
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLedgerSheet(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.LedgerSheet {
	if !cfg.Google.Enabled {
		return nil
	}

	sheet, err := google.NewLedgerSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.LedgerSpreadSheetID, cfg.Google.LedgerSheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger mirror")
		return nil
	}
	if err := sheet.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("Google Sheets connection test failed")
		return nil
	}
	if err := sheet.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("ledger sheet cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheet
}

// subscribeLedgerEvents wakes the sync worker right after ledger writes.
func subscribeLedgerEvents(bus *events.EventBus, w *worker.LedgerSyncWorker) {
	wake := func(*events.Event) error {
		w.Wake()
		return nil
	}
	for _, eventType := range []string{
		events.EventEarningRecorded,
		events.EventEarningSettled,
		events.EventEarningVoided,
		events.EventWithdrawalCompleted,
	} {
		bus.Subscribe(eventType, wake)
	}
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) *notify.TelegramNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return nil
	}
	bot.Debug = cfg.Telegram.Debug

	logger.Info().Str("username", bot.Self.UserName).Msg("Authorized on account")
	return notify.NewTelegramNotifier(bot, cfg.Telegram.AdminChatID, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("grpc_port", cfg.API.GRPC.Port).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
