package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/message-router/internal/queue"
)

type JobEvent struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Destination  string    `json:"destination"`
	Attempt      int       `json:"attempt"`
	Conversation string    `json:"conversation_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

func NewJobEvent(res queue.Result) JobEvent {
	ev := JobEvent{
		Status:    string(res.Status),
		EmittedAt: time.Now().UTC(),
	}
	if res.Job != nil {
		ev.JobID = res.Job.ID
		ev.Destination = res.Job.Destination
		// A retrying job has already been charged for the failed attempt.
		ev.Attempt = res.Job.Retries + 1
		if res.Status == queue.StatusRetrying {
			ev.Attempt = res.Job.Retries
		}
		ev.Conversation = res.Job.Payload.Context.ConversationID
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

type EventSink interface {
	Emit(ctx context.Context, ev JobEvent) error
}

// KafkaSink writes job events keyed by job id.
type KafkaSink struct {
	Writer *kafka.Writer
}

func (s *KafkaSink) Emit(ctx context.Context, ev JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.JobID), Value: payload})
}
