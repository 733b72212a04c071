package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("queue-worker")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	if !cfg.QueueEnabled() {
		logger.Fatal().Msg("VALKEY_ADDR must be provided")
	}
	jobs, closeStore, err := queue.NewQueueFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect job queue")
	}
	defer closeStore()

	drainer := &worker.Drainer{
		Queue:     jobs,
		BatchSize: cfg.WorkerBatchSize,
		Logger:    logger,
	}
	if w := common.NewKafkaWriter(cfg, cfg.QueueEventsTopic); w != nil {
		defer w.Close()
		drainer.Events = &worker.KafkaSink{Writer: w}
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           worker.NewServer(drainer, cfg.CronSecret, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Str("queue", jobs.Name()).Msg("queue worker listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
