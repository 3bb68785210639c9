package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wattwatch/api"
	"wattwatch/config"
	"wattwatch/log"
	"wattwatch/services"
	"wattwatch/store"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

const (
	notifyTimeout = 10 * time.Second

	// Cleanup steps run one after another and together must fit in cleanupDeadline,
	// leaving room for the broker and store closes.
	schedulerStopTimeout = 5 * time.Second
	httpShutdownTimeout  = 3 * time.Second
	notifyDrainTimeout   = 5 * time.Second
	cleanupDeadline      = 20 * time.Second
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Invalid LOG_LEVEL, keeping info", zap.String("log_level", cfg.LogLevel))
	}

	// Calendar buckets roll over on local midnight
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
		time.Local = loc
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store
	kv, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	repo := store.NewRepository(kv)

	// Sample sources feed the latest-reading cache the metering tick pulls from
	readings := services.NewLatestReadings(cfg.SampleTimeout)

	var mqttSource *services.MQTTSource
	if cfg.MQTTBroker != "" {
		mqttSource = services.NewMQTTSource(cfg, readings, logger)
	}

	var rabbitMQService *services.RabbitMQService
	if cfg.RabbitMQURL != "" {
		rabbitMQService, err = services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
	}

	var firebasePoller *services.FirebaseReadingPoller
	if cfg.FirebaseReadingsPath != "" {
		client, err := store.NewFirebaseClient(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase reading source", zap.Error(err))
		}
		firebasePoller = services.NewFirebaseReadingPoller(client, cfg.FirebaseReadingsPath, readings, logger)
	}

	// Notification channels
	dispatcher := services.NewDispatcher(notifyTimeout, logger)

	var telegramService *services.TelegramService
	if cfg.TelegramBotToken != "" {
		telegramService, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		dispatcher.Add("telegram", telegramService)
	}

	if cfg.VoiceURL != "" {
		dispatcher.Add("voice", services.NewVoiceService(logger, cfg.VoiceURL, cfg.VoiceStarted, cfg.VoiceFinished))
		logger.Info("Voice announcements enabled", zap.String("url", cfg.VoiceURL))
	}

	var kafkaPublisher *services.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher = services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		dispatcher.Add("kafka", kafkaPublisher)
	}

	if rabbitMQService != nil {
		dispatcher.Add("rabbitmq", rabbitMQService)
	}

	// Metering engine
	filter := services.NewSmoothingFilter(repo, cfg.WindowSize, logger)
	history := services.NewJobHistory(repo, cfg.JobHistoryLimit, logger)
	machine := services.NewStateMachine(repo, filter, history, dispatcher, logger)
	ledger := services.NewUsageLedger(repo, cfg.PricePerKWh, logger)
	meter := services.NewMeter(repo, readings, filter, machine, ledger, logger)

	registry := services.NewRegistry(repo, logger)
	registered := registry.RegisterAll(ctx, cfg.Devices)
	if registered == 0 {
		logger.Warn("No devices registered, nothing to meter", zap.Int("configured", len(cfg.Devices)))
	}

	scheduler := services.NewScheduler(registry, meter, cfg.MeteringInterval, cfg.RollupInterval, logger)

	var alerter services.SourceAlerter
	if telegramService != nil {
		alerter = telegramService
	}
	watchdog := services.NewSampleWatchdog(registry, readings, alerter, cfg.SampleTimeout, logger)

	router := api.NewRouter(api.NewServer(registry, repo, history, ledger, logger))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, router)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Send startup notification
	if telegramService != nil {
		if err := telegramService.SendStartupMessage(registered); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("WattWatch metering service started",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Int("devices", registered),
		zap.Int("window_size", cfg.WindowSize),
		zap.Duration("metering_interval", cfg.MeteringInterval),
		zap.Duration("rollup_interval", cfg.RollupInterval),
		zap.Float64("price_per_kwh", cfg.PricePerKWh),
	)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal when cleanup is complete
	cleanupDone := make(chan bool, 1)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")

		// Cancel context to stop all goroutines
		cancel()

		// Wait for cleanup to complete or timeout
		select {
		case <-cleanupDone:
			logger.Info("Cleanup completed successfully")
		case <-time.After(cleanupDeadline):
			logger.Warn("Cleanup timeout, forcing exit")
		}

		logger.Info("WattWatch metering service stopped")
		os.Exit(0)
	}()

	// Start sample sources
	if mqttSource != nil {
		go func() {
			if err := mqttSource.Start(ctx); err != nil {
				logger.Fatal("MQTT source failed", zap.Error(err))
			}
		}()
	}
	if rabbitMQService != nil {
		go func() {
			if err := rabbitMQService.Consume(ctx, readings); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
	}
	if firebasePoller != nil {
		go firebasePoller.Start(ctx)
	}

	go watchdog.Start(ctx)
	scheduler.Start(ctx)

	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Perform cleanup
	logger.Info("Starting cleanup")

	// No new ticks after this point; in-flight ticks get a chance to finish
	if !scheduler.Stop(schedulerStopTimeout) {
		logger.Warn("Some ticks were still running at shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	shutdownCancel()

	if !dispatcher.Wait(notifyDrainTimeout) {
		logger.Warn("Pending notifications abandoned")
	}

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	if rabbitMQService != nil {
		if err := rabbitMQService.Close(); err != nil {
			logger.Error("Error closing RabbitMQ service", zap.Error(err))
		}
	}

	if err := kv.Close(); err != nil {
		logger.Error("Error closing store", zap.Error(err))
	} else {
		logger.Info("Store closed")
	}

	// Signal cleanup completion
	cleanupDone <- true
}
