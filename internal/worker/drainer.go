package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
)

const DefaultBatchSize = 10

var (
	jobCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_total",
		Help: "Jobs taken off the queue by outcome",
	}, []string{"status"})
	drainLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_drain_duration_seconds",
		Help:    "Duration of one drain invocation",
		Buckets: prometheus.DefBuckets,
	})
	queueRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_queue_remaining",
		Help: "Queue size observed after the last drain",
	})
)

// Processor is the part of queue.Queue the drainer needs.
type Processor interface {
	ProcessNext(ctx context.Context) (queue.Result, error)
	Size(ctx context.Context) (int64, error)
}

type JobResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Summary struct {
	Processed int         `json:"processed"`
	Remaining int64       `json:"remaining"`
	Jobs      []JobResult `json:"jobs"`
}

// Drainer processes a bounded batch of jobs per invocation. It holds no
// state between calls and does not coordinate with concurrent drainers.
type Drainer struct {
	Queue     Processor
	BatchSize int
	Events    EventSink
	Logger    zerolog.Logger
}

// Drain runs up to BatchSize jobs, stopping early when the queue is empty or
// the next job is not yet due. Job failures are recorded and never stop the
// batch; only queue access errors are returned.
func (d *Drainer) Drain(ctx context.Context) (Summary, error) {
	if d.Queue == nil {
		return Summary{}, errors.New("drainer requires a queue")
	}
	start := time.Now()
	defer func() { drainLatency.Observe(time.Since(start).Seconds()) }()

	ctx, span := otel.Tracer("worker").Start(ctx, "drain")
	defer span.End()
	logger := common.WithContext(ctx, d.Logger)

	limit := d.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	summary := Summary{Jobs: make([]JobResult, 0, limit)}
	logger.Info().Int("batch_size", limit).Msg("starting queue processing")

	for i := 0; i < limit; i++ {
		res, err := d.ProcessOne(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "process job")
			return summary, err
		}
		if !res.Processed() {
			break
		}
		summary.Processed++
		jr := JobResult{ID: res.Job.ID, Success: res.Success()}
		if res.Err != nil {
			jr.Error = res.Err.Error()
		}
		summary.Jobs = append(summary.Jobs, jr)
		logger.Info().
			Str("job_id", jr.ID).
			Bool("success", jr.Success).
			Msgf("processed job %d/%d", i+1, limit)
	}

	remaining, err := d.Queue.Size(ctx)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("queue size: %w", err)
	}
	summary.Remaining = remaining
	queueRemaining.Set(float64(remaining))
	span.SetAttributes(
		attribute.Int("jobs.processed", summary.Processed),
		attribute.Int64("jobs.remaining", remaining),
	)
	logger.Info().
		Int("processed", summary.Processed).
		Int64("remaining", remaining).
		Msg("queue processing complete")
	return summary, nil
}

// ProcessOne runs a single ProcessNext and records metrics and events for it.
func (d *Drainer) ProcessOne(ctx context.Context) (queue.Result, error) {
	res, err := d.Queue.ProcessNext(ctx)
	if err != nil {
		jobCounter.WithLabelValues("error").Inc()
		return res, err
	}
	if !res.Processed() {
		return res, nil
	}
	jobCounter.WithLabelValues(string(res.Status)).Inc()
	if d.Events != nil {
		if err := d.Events.Emit(ctx, NewJobEvent(res)); err != nil {
			logger := common.WithContext(ctx, d.Logger)
			logger.Warn().Err(err).Str("job_id", res.Job.ID).Msg("emit job event failed")
		}
	}
	return res, nil
}
