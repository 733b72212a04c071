package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/dispatcher"
	"github.com/example/message-router/internal/ingest"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/reply"
	"github.com/example/message-router/internal/routing"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("ingestion")
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

	routes, err := routing.LoadFile(cfg.RoutesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid route table")
	}

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL must be provided")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	repo := ingest.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("prepare database")
	}

	deps := ingest.Deps{
		Repo:   repo,
		Routes: routes,
		Replier: &reply.Retrying{
			Provider: &reply.UAZProvider{Endpoint: cfg.UAZBaseURL, APIKey: cfg.UAZAPIKey},
		},
		Forwarder:   &dispatcher.Dispatcher{Logger: logger},
		AgentURL:    cfg.CrewAIBaseURL,
		CallbackURL: cfg.QStashCallbackURL,
		Logger:      logger,
	}
	if qs := queue.NewQStashFromConfig(cfg, logger); qs != nil {
		deps.Publisher = qs
	}
	if cfg.QueueEnabled() {
		jobs, closeStore, err := queue.NewQueueFromConfig(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect job queue")
		}
		defer closeStore()
		deps.Enqueuer = jobs
	}

	svc, err := ingest.NewService(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("build ingest service")
	}
	h := ingest.NewHandler(svc, logger)

	srv := &http.Server{
		Addr:              formatAddr(cfg.HTTPPort),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("ingestion service listening")
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

func formatAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
