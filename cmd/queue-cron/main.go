package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("queue-cron")
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

	scheduler, err := worker.NewScheduler(drainer, cfg.CronSchedule, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid CRON_SCHEDULE")
	}

	logger.Info().Str("schedule", cfg.CronSchedule).Str("queue", jobs.Name()).Msg("queue cron started")
	if err := scheduler.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("queue cron stopped")
	}
}
