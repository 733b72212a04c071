package queue

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/example/message-router/internal/common"
)

func TestNewQueueFromConfigRequiresStore(t *testing.T) {
	cfg := &common.Config{QueueName: "test_queue"}

	q, closeStore, err := NewQueueFromConfig(context.Background(), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrQueueNotConfigured)
	assert.Nil(t, q)
	assert.Nil(t, closeStore)
}
