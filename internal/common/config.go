package common

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServiceName string
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	MetricsPort int    `env:"METRICS_PORT"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL  string `env:"DATABASE_URL"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	KafkaBrokers        []string `env:"KAFKA_BROKERS" envSeparator:","`
	QueueEventsTopic    string   `env:"QUEUE_EVENTS_TOPIC" envDefault:"queue.events"`
	ProviderEventsTopic string   `env:"PROVIDER_EVENTS_TOPIC" envDefault:"provider.events"`

	QStashURL         string `env:"QSTASH_URL" envDefault:"https://qstash.upstash.io"`
	QStashToken       string `env:"QSTASH_TOKEN"`
	QStashCallbackURL string `env:"QSTASH_CALLBACK_URL"`
	QStashCurrentKey  string `env:"QSTASH_CURRENT_SIGNING_KEY"`
	QStashNextKey     string `env:"QSTASH_NEXT_SIGNING_KEY"`

	ValkeyAddr     string `env:"VALKEY_ADDR"`
	RedisURL       string `env:"UPSTASH_REDIS_URL"`
	ValkeyPassword string `env:"VALKEY_PASSWORD"`
	QueueName      string `env:"QUEUE_NAME" envDefault:"crewai_message_queue"`

	WorkerBatchSize int           `env:"WORKER_BATCH_SIZE" envDefault:"10"`
	JobTimeout      time.Duration `env:"JOB_TIMEOUT" envDefault:"30s"`
	CronSecret      string        `env:"CRON_SECRET" envDefault:"dev-secret"`
	CronSchedule    string        `env:"CRON_SCHEDULE" envDefault:"* * * * *"`

	CrewAIBaseURL string `env:"CREWAI_API_URL" envDefault:"https://api.falachefe.app.br"`
	UAZBaseURL    string `env:"UAZ_BASE_URL" envDefault:"https://falachefe.uazapi.com"`
	UAZAPIKey     string `env:"UAZ_API_KEY"`
	RoutesFile    string `env:"ROUTES_FILE"`
}

func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = cfg.HTTPPort + 1000
	}
	if cfg.ValkeyAddr == "" {
		cfg.ValkeyAddr = cfg.RedisURL
	}
	if cfg.WorkerBatchSize <= 0 {
		return nil, fmt.Errorf("invalid value for WORKER_BATCH_SIZE: %d", cfg.WorkerBatchSize)
	}
	return cfg, nil
}

// QueueEnabled reports whether a local Redis-backed job queue is configured.
func (c *Config) QueueEnabled() bool {
	return c.ValkeyAddr != ""
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
