package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultQueueName = "crewai_message_queue"

// Queue is an at-least-once job queue on top of a Store. Jobs are pushed at
// the head and consumed from the tail; failures are re-pushed with an
// exponential delay until MaxRetries, then moved to "<name>:dlq".
type Queue struct {
	store    Store
	executor Executor
	name     string
	logger   zerolog.Logger
	now      func() time.Time
}

type QueueOption func(*Queue)

func WithName(name string) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.name = name
		}
	}
}

func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func NewQueue(store Store, executor Executor, logger zerolog.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		store:    store,
		executor: executor,
		name:     DefaultQueueName,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) deadLetterName() string { return q.name + ":dlq" }

// Enqueue stores a job for destination and returns its id.
func (q *Queue) Enqueue(ctx context.Context, destination string, payload Payload, opts ...Option) (string, error) {
	o := buildOptions(opts)
	now := q.now()
	job := Job{
		ID:          "job_" + uuid.NewString(),
		Destination: destination,
		Payload:     payload,
		MaxRetries:  o.Retries,
		CreatedAt:   now.UnixMilli(),
	}
	if o.Delay > 0 {
		job.ProcessAfter = now.Add(o.Delay).UnixMilli()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.store.LPush(ctx, q.name, data); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	q.logger.Info().
		Str("job_id", job.ID).
		Str("destination", destination).
		Dur("delay", o.Delay).
		Msg("job enqueued")
	return job.ID, nil
}

// ProcessNext takes the oldest job off the queue and executes it. The
// returned error is reserved for store failures; execution failures are
// reported in Result.Err.
func (q *Queue) ProcessNext(ctx context.Context) (Result, error) {
	data, ok, err := q.store.RPop(ctx, q.name)
	if err != nil {
		return Result{}, fmt.Errorf("dequeue job: %w", err)
	}
	if !ok {
		return Result{Status: StatusEmpty}, nil
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		q.logger.Error().Err(err).Msg("malformed job moved to dead letter queue")
		if perr := q.store.LPush(ctx, q.deadLetterName(), data); perr != nil {
			return Result{}, fmt.Errorf("dead letter malformed job: %w", perr)
		}
		return Result{
			Status: StatusDeadLettered,
			Job:    &Job{ID: MalformedJobID},
			Err:    fmt.Errorf("decode job: %w", err),
		}, nil
	}

	if !job.Due(q.now()) {
		if err := q.store.RPush(ctx, q.name, data); err != nil {
			return Result{}, fmt.Errorf("requeue deferred job: %w", err)
		}
		return Result{Status: StatusDeferred}, nil
	}

	q.logger.Info().
		Str("job_id", job.ID).
		Str("destination", job.Destination).
		Int("attempt", job.Retries+1).
		Int("max_retries", job.MaxRetries).
		Msg("processing job")

	execErr := q.executor.Execute(ctx, job)
	if execErr == nil {
		q.logger.Info().Str("job_id", job.ID).Msg("job executed")
		return Result{Status: StatusSucceeded, Job: &job}, nil
	}

	var permanent *backoff.PermanentError
	if job.Retries < job.MaxRetries && !errors.As(execErr, &permanent) {
		job.Retries++
		job.ProcessAfter = q.now().Add(retryDelay(job.Retries)).UnixMilli()
		if err := q.push(ctx, q.name, job); err != nil {
			return Result{}, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		q.logger.Warn().
			Err(execErr).
			Str("job_id", job.ID).
			Int("attempt", job.Retries).
			Time("next_attempt", time.UnixMilli(job.ProcessAfter)).
			Msg("job requeued for retry")
		return Result{Status: StatusRetrying, Job: &job, Err: execErr}, nil
	}

	if err := q.push(ctx, q.deadLetterName(), job); err != nil {
		return Result{}, fmt.Errorf("dead letter job %s: %w", job.ID, err)
	}
	q.logger.Error().Err(execErr).Str("job_id", job.ID).Msg("job failed after max retries")
	return Result{Status: StatusDeadLettered, Job: &job, Err: execErr}, nil
}

func (q *Queue) push(ctx context.Context, list string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.store.LPush(ctx, list, data)
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.name)
}

func (q *Queue) DeadLetterSize(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.deadLetterName())
}

// Clear drops every pending job. The dead letter list is kept.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.store.Del(ctx, q.name); err != nil {
		return err
	}
	q.logger.Warn().Str("queue", q.name).Msg("queue cleared")
	return nil
}
