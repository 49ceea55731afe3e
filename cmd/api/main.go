package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/selimacar/pushfanout/internal/config"
	"github.com/selimacar/pushfanout/internal/expo"
	"github.com/selimacar/pushfanout/internal/handler"
	"github.com/selimacar/pushfanout/internal/infra/postgresql"
	"github.com/selimacar/pushfanout/internal/infra/postgresql/migrations"
	infraredis "github.com/selimacar/pushfanout/internal/infra/redis"
	"github.com/selimacar/pushfanout/internal/observability"
	"github.com/selimacar/pushfanout/internal/queue"
	"github.com/selimacar/pushfanout/internal/repository"
	"github.com/selimacar/pushfanout/internal/service"
	"github.com/selimacar/pushfanout/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("pushfanout stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.GatewayRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)

	gateway, err := expo.NewClient(cfg.ExpoPushURL)
	if err != nil {
		return fmt.Errorf("expo client initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	notificationRepo := repository.NewGormNotificationRepo(db)
	tokenRepo := repository.NewGormTokenRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)

	dispatcher, err := service.NewDispatcher(notificationRepo, publisher, logger)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}

	notificationService, err := service.NewNotificationService(notificationRepo, deliveryRepo, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}

	tokenService, err := service.NewTokenService(tokenRepo, logger)
	if err != nil {
		return fmt.Errorf("token service initialization failed: %w", err)
	}

	sender, err := service.NewSender(notificationRepo, tokenRepo, deliveryRepo, gateway, rateLimiter, cfg.SendBatchSize, logger)
	if err != nil {
		return fmt.Errorf("sender initialization failed: %w", err)
	}
	sender.SetMetrics(metrics)

	aggregator, err := service.NewStatusAggregator(notificationRepo, deliveryRepo, logger)
	if err != nil {
		return fmt.Errorf("aggregator initialization failed: %w", err)
	}
	aggregator.SetMetrics(metrics)

	poller, err := service.NewReceiptPoller(
		deliveryRepo,
		tokenRepo,
		aggregator,
		publisher,
		gateway,
		rateLimiter,
		service.ReceiptPollerConfig{
			GracePeriod:  cfg.ReceiptGracePeriod(),
			MaxAge:       cfg.ReceiptMaxAge(),
			PollInterval: cfg.ReceiptPollInterval(),
			ScanLimit:    cfg.ReceiptScanLimit,
			BatchSize:    cfg.ReceiptBatchSize,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("receipt poller initialization failed: %w", err)
	}
	poller.SetMetrics(metrics)

	scanner, err := service.NewScheduleScanner(
		notificationRepo,
		publisher,
		cfg.ScheduleScanInterval(),
		cfg.ScheduleScanLimit,
		logger,
	)
	if err != nil {
		return fmt.Errorf("schedule scanner initialization failed: %w", err)
	}

	worker, err := service.NewWorkerService(consumer, sender, poller, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "pushfanout",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, notificationService, dispatcher); err != nil {
		return fmt.Errorf("notification routes registration failed: %w", err)
	}
	if err := handler.RegisterTokenRoutes(app, tokenService); err != nil {
		return fmt.Errorf("token routes registration failed: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	logger.Info("pushfanout started",
		zap.Int("apiPort", cfg.APIPort),
		zap.Int("metricsPort", cfg.MetricsPort),
		zap.Int("workers", cfg.WorkerConcurrency),
	)

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		return poller.Start(groupCtx)
	})

	g.Go(func() error {
		return scanner.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
