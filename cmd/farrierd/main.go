package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/api"
	"github.com/stablehq/farrier/internal/circuitbreaker"
	"github.com/stablehq/farrier/internal/config"
	"github.com/stablehq/farrier/internal/db"
	"github.com/stablehq/farrier/internal/delivery"
	"github.com/stablehq/farrier/internal/materialize"
	"github.com/stablehq/farrier/internal/observ"
	"github.com/stablehq/farrier/internal/redis"
	"github.com/stablehq/farrier/internal/schedule"
	"github.com/stablehq/farrier/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting farrier scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", "v1.2.0"),
	)

	// Initialize MongoDB
	ctx := context.Background()
	store, err := db.New(ctx, db.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	// Initialize Redis for the distributed rate limiter. Without Redis the
	// daemon falls back to process-local token buckets.
	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using process-local rate limiting",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var limiter delivery.ChannelLimiter
	if redisClient != nil {
		limiter = redis.NewChannelRateLimiter(redisClient, map[string]redis.RateLimitConfig{
			db.ChannelEmail:    {Limit: cfg.RateEmailPerMinute, Window: time.Minute},
			db.ChannelPush:     {Limit: cfg.RatePushPerMinute, Window: time.Minute},
			db.ChannelTelegram: {Limit: cfg.RateTelegramPerMinute, Window: time.Minute},
		}, logger)
	} else {
		limits := delivery.DefaultLimits()
		limits[db.ChannelEmail] = delivery.Limits{PerMinute: float64(cfg.RateEmailPerMinute), Burst: limits[db.ChannelEmail].Burst}
		limits[db.ChannelPush] = delivery.Limits{PerMinute: float64(cfg.RatePushPerMinute), Burst: limits[db.ChannelPush].Burst}
		limits[db.ChannelTelegram] = delivery.Limits{PerMinute: float64(cfg.RateTelegramPerMinute), Burst: limits[db.ChannelTelegram].Burst}
		limiter = delivery.NewTokenBuckets(limits)
	}

	// Initialize channel senders, each behind its own circuit breaker.
	protect := func(name string, s delivery.Sender) delivery.Sender {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		return circuitbreaker.NewProtectedSender(s, breaker, logger)
	}

	sesSender, err := delivery.NewSESSender(ctx, delivery.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}
	senders := []delivery.Sender{protect("ses", sesSender)}

	pushSender, err := delivery.NewPushSender(ctx, delivery.PushConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, push notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, protect("sns", pushSender))
	}

	if cfg.TelegramToken != "" {
		tgSender, err := delivery.NewTelegramSender(delivery.TelegramConfig{
			Token: cfg.TelegramToken,
		}, logger)
		if err != nil {
			logger.Warn("telegram sender unavailable, telegram notifications disabled",
				zap.Error(err),
			)
		} else {
			senders = append(senders, protect("telegram", tgSender))
		}
	}

	// In development, unconfigured channels fall through to the log sender
	// instead of failing.
	if cfg.Env == "development" {
		senders = append(senders, delivery.NewLogSender(logger))
	}

	logger.Info("initialized delivery channels",
		zap.Bool("email_enabled", true),
		zap.Bool("push_enabled", pushSender != nil),
		zap.Bool("telegram_enabled", cfg.TelegramToken != ""),
	)

	dispatcher := delivery.NewDispatcher(store, senders, logger)
	processor := delivery.NewProcessor(store, dispatcher, limiter, delivery.Config{
		MaxAttempts: cfg.MaxAttempts,
		ItemTimeout: time.Duration(cfg.ItemTimeoutSeconds) * time.Second,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	worker := delivery.NewWorker(store, processor, delivery.WorkerConfig{
		PollInterval: time.Duration(cfg.DeliveryPollSeconds) * time.Second,
		BatchSize:    cfg.DeliveryBatchSize,
		Concurrency:  cfg.DeliveryConcurrency,
	}, logger)
	go worker.Start(workerCtx)

	logger.Info("delivery worker started in background")

	// SQS wiring: the retry sweep nudges reset items through the queue and a
	// consumer picks them up ahead of the next poll.
	var nudger delivery.Nudger
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}

		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, retry nudges disabled",
				zap.Error(err),
			)
		} else {
			nudger = producer
		}

		consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, relying on queue polling",
				zap.Error(err),
			)
		} else {
			go consumer.Run(workerCtx, func(ctx context.Context, msg *sqs.Message) error {
				return processor.ProcessItem(ctx, msg.QueueItemID)
			})
		}
	}

	sweeper := delivery.NewSweeper(store, nudger, delivery.SweeperConfig{
		FailedRetention:   time.Duration(cfg.FailedRetentionHours) * time.Hour,
		TerminalRetention: time.Duration(cfg.TerminalRetentionDays) * 24 * time.Hour,
		ArchiveAfter:      time.Duration(cfg.ArchiveAfterDays) * 24 * time.Hour,
	}, logger)

	holidays := cfg.Holidays
	if len(holidays) == 0 {
		holidays = materialize.DefaultHolidays()
	}
	materializer := materialize.New(store, materialize.Config{
		Workers:          cfg.MaterializeWorkers,
		MaxBatchSize:     cfg.InstanceBatchSize,
		DefaultDaysAhead: cfg.DefaultDaysAhead,
		Holidays:         holidays,
	}, logger)

	scheduler, err := schedule.New(schedule.Config{
		MaterializeSpec: cfg.CronMaterialize,
		RetrySweepSpec:  cfg.CronRetrySweep,
		CleanupSpec:     cfg.CronCleanup,
	}, schedule.Jobs{
		Materialize: func(ctx context.Context) error {
			_, err := materializer.Run(ctx)
			return err
		},
		RetrySweep: sweeper.SweepRetries,
		Cleanup:    sweeper.SweepCleanup,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()

	// Setup the ops HTTP surface
	var redisPinger api.Pinger
	if redisClient != nil {
		redisPinger = redisClient
	}
	opsHandler := api.NewHandler(logger, store, redisPinger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      opsHandler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Stop triggering jobs and wait for running ones, then stop the
		// polling worker and consumer.
		scheduler.Stop()
		workerCancel()

		logger.Info("farrier scheduler stopped gracefully")
	}

	return nil
}
