package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivlasau/digestd/internal/auth"
	"github.com/ivlasau/digestd/internal/config"
	"github.com/ivlasau/digestd/internal/database"
	"github.com/ivlasau/digestd/internal/httpapi"
	"github.com/ivlasau/digestd/internal/logging"
	"github.com/ivlasau/digestd/internal/repository"
	"github.com/ivlasau/digestd/internal/service"
	"github.com/ivlasau/digestd/internal/summarizer"
	"github.com/ivlasau/digestd/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("failed to connect to database", "error", err)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logger.Fatalw("failed to run migrations", "error", err)
	}
	logger.Info("database ready")

	digestRepo := repository.NewDigestRepository(db)
	runLogRepo := repository.NewRunLogRepository(db)
	userRepo := repository.NewUserRepository(db)

	gateway := telegram.NewClient(cfg.TelegramGatewayURL, cfg.TelegramBotToken)
	summarizerClient := summarizer.NewClient(cfg.DeepSeekAPIKey, logger)

	aggregator := service.NewAggregator(gateway, digestRepo, logger)
	processor := service.NewProcessor(digestRepo, runLogRepo, aggregator, summarizerClient, gateway, logger)
	watcher := service.NewWatcher(
		time.Duration(cfg.PollInterval)*time.Second,
		digestRepo,
		processor,
		logger,
	)

	validator := auth.NewValidator(cfg.TelegramBotToken, time.Duration(cfg.InitDataTTL)*time.Second)
	api := httpapi.NewServer(digestRepo, runLogRepo, userRepo, processor, validator, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("scheduler stopped", "error", err)
		}
	}()

	go func() {
		logger.Infow("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
