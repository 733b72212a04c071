package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/message-router/internal/common"
)

// ErrQueueNotConfigured is returned when no Redis address is configured.
// Producers and consumers must share a list, so there is no in-process
// fallback outside tests.
var ErrQueueNotConfigured = errors.New("job queue requires VALKEY_ADDR or UPSTASH_REDIS_URL")

// OpenStore connects to the configured Redis instance.
func OpenStore(ctx context.Context, cfg *common.Config) (*ValkeyStore, error) {
	if !cfg.QueueEnabled() {
		return nil, ErrQueueNotConfigured
	}
	store, err := NewValkeyStore(ctx, ValkeyConfig{Address: cfg.ValkeyAddr, Password: cfg.ValkeyPassword})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	return store, nil
}

// NewQueueFromConfig opens the store and builds a queue that executes jobs
// over HTTP with the configured per-job timeout.
func NewQueueFromConfig(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (*Queue, func(), error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	exec := &HTTPExecutor{Timeout: cfg.JobTimeout}
	return NewQueue(store, exec, logger, WithName(cfg.QueueName)), store.Close, nil
}
