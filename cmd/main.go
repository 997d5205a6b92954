/**
 * @description
 * Main entry point for the deal-service. It loads configuration, connects to
 * Postgres, Redis and RabbitMQ, wires the assignment engine and the CRM sync
 * pipeline, starts the backfill scheduler and serves the HTTP API.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadflow/deal-service/internal/api"
	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/bootstrap"
	"github.com/leadflow/deal-service/internal/config"
	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
	"github.com/leadflow/deal-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dbpool, err := bootstrap.OpenDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	crm, closeTokens := bootstrap.NewCRMClient(ctx, cfg, logger)
	defer closeTokens()

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.DealEventsExchange, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; deal events will be dropped", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		publisher = producer
		logger.Info("rabbitmq producer connected", "exchange", cfg.DealEventsExchange)
	}
	defer publisher.Close()

	repository := store.NewPostgresRepository(dbpool)
	assigner := app.NewAssigner(repository, cfg.Assignment(), logger)
	pusher := app.NewBatchPusher(crm, logger)
	mode := app.PushMode(cfg.CRMPushMode)
	service := app.NewDealService(repository, assigner, pusher, publisher, mode, logger)

	if mode == app.PushAsync {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("async push mode requires rabbitmq", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		handler := app.NewDealEventHandler(service, repository, logger)
		if err := consumer.ConsumeWithBindings(cfg.DealEventsExchange, cfg.DealSyncQueue, map[string]rabbitmq.Handler{
			domain.EventDealManagerAssigned: handler.HandleManagerAssigned,
		}); err != nil {
			logger.Error("failed to start deal sync consumer", "error", err)
			os.Exit(1)
		}
		logger.Info("deal sync consumer started", "queue", cfg.DealSyncQueue)
	}

	backfiller := app.NewBackfiller(repository, assigner, logger)
	scheduler := app.NewScheduler(app.NewJobs(backfiller, cfg.AssignmentBackfillChunkSize, logger), logger, cfg.AssignmentBackfillSchedule)
	scheduler.Start()

	router := api.NewRouter(api.NewHandler(service))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort, "push_mode", mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("backfill job still running at shutdown")
	}

	logger.Info("server stopped")
}
