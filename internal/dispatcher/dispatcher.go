package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/routing"
)

var forwardCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatcher_forwards_total",
	Help: "Synchronous forwards to the agent service by endpoint and outcome",
}, []string{"endpoint", "status"})

// Dispatcher forwards a payload straight to the agent service when no queue
// is available, honouring the route's timeout and retry budget.
type Dispatcher struct {
	Client *http.Client
	// RetryInterval is the initial backoff between attempts; defaults to 1s.
	RetryInterval time.Duration
	Logger        zerolog.Logger
}

func (d *Dispatcher) Forward(ctx context.Context, route routing.RouteConfig, destination string, payload queue.Payload) error {
	if route.IsLocal() {
		return backoff.Permanent(fmt.Errorf("route %s is answered locally", route.Endpoint))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, span := otel.Tracer("dispatcher").Start(ctx, "forward")
	defer span.End()
	span.SetAttributes(
		attribute.String("route.endpoint", route.Endpoint),
		attribute.Int("route.retries", route.Retries),
	)

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, route.Timeout)
		defer cancel()
		return d.send(attemptCtx, route, destination, body)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(route.Retries)), ctx)
	err = backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		logger := common.WithContext(ctx, d.Logger)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Str("endpoint", route.Endpoint).
			Msg("forward failed, retrying")
	})
	if err != nil {
		span.RecordError(err)
		forwardCounter.WithLabelValues(route.Endpoint, "error").Inc()
		return fmt.Errorf("forward to %s after %d attempt(s): %w", route.Endpoint, attempt, err)
	}
	forwardCounter.WithLabelValues(route.Endpoint, "ok").Inc()
	return nil
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if d.RetryInterval > 0 {
		b.InitialInterval = d.RetryInterval
	}
	b.MaxElapsedTime = 0
	return b
}

func (d *Dispatcher) send(ctx context.Context, route routing.RouteConfig, destination string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	for k, v := range route.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("agent temporary error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("agent permanent error: %s", resp.Status))
	}
	return nil
}
