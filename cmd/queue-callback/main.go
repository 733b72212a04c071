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
	"github.com/example/message-router/internal/webhook"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("queue-callback")
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

	producer := common.NewKafkaWriter(cfg, cfg.ProviderEventsTopic)
	if producer == nil {
		logger.Fatal().Msg("KAFKA_BROKERS must be provided")
	}
	defer producer.Close()

	var verifier *webhook.Verifier
	if cfg.QStashCurrentKey != "" || cfg.QStashNextKey != "" {
		verifier = &webhook.Verifier{
			CurrentKey: cfg.QStashCurrentKey,
			NextKey:    cfg.QStashNextKey,
			Leeway:     time.Minute,
		}
	} else {
		logger.Warn().Msg("QStash signing keys not configured, callbacks are not verified")
	}

	server := webhook.NewServer(producer, verifier, cfg.QStashCallbackURL, logger)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("callback receiver listening")
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
