package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/routing"
)

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_webhooks_total",
		Help: "Total number of UAZ webhooks received",
	}, []string{"status", "event"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_webhook_duration_seconds",
		Help:    "Latency for UAZ webhook handling",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
)

const maxWebhookBody = 4 << 20

// MessageHandler is implemented by Service.
type MessageHandler interface {
	Handle(ctx context.Context, owner string, chat Chat, msg routing.Message) (Outcome, error)
}

type Handler struct {
	service MessageHandler
	tracer  trace.Tracer
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHandler(service MessageHandler, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		tracer:  otel.Tracer("ingestion"),
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/webhook/uaz", h.webhook)
	r.Get("/api/webhook/uaz", h.health)
	return r
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "uaz-webhook")
	defer span.End()
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, "unknown", err, "Invalid request body")
		return
	}
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, "unknown", err, "Invalid JSON payload")
		return
	}
	if err := validateRequest(payload); err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, payload.EventType, err, "Invalid webhook payload structure")
		return
	}
	span.SetAttributes(attribute.String("webhook.event", payload.EventType))

	logger := common.WithContext(ctx, h.logger)
	switch payload.EventType {
	case EventMessages:
		out, err := h.service.Handle(ctx, payload.Owner, *payload.Chat, *payload.Message)
		if err != nil {
			h.respondErr(ctx, w, http.StatusInternalServerError, payload.EventType, err, "Internal server error")
			return
		}
		logger.Info().
			Str("status", string(out.Status)).
			Str("content_type", string(out.ContentType)).
			Str("reference", out.Reference).
			Msg("webhook message routed")
	default:
		logger.Debug().Str("event", payload.EventType).Str("owner", payload.Owner).Msg("webhook event acknowledged")
	}

	reqCounter.WithLabelValues("ok", payload.EventType).Inc()
	requestLatency.WithLabelValues(payload.EventType).Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Webhook processed successfully",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "UAZ Webhook Handler",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, status int, event string, err error, public string) {
	logger := common.WithContext(ctx, h.logger)
	logger.Error().Err(err).Int("status", status).Msg("webhook handler failed")
	reqCounter.WithLabelValues(http.StatusText(status), event).Inc()
	writeJSON(w, status, map[string]any{"success": false, "error": public})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func validateRequest(p WebhookPayload) error {
	if p.EventType == "" {
		return errors.New("EventType is required")
	}
	if p.Owner == "" {
		return errors.New("owner is required")
	}
	if p.Token == "" {
		return errors.New("token is required")
	}
	switch p.EventType {
	case EventMessages, EventMessagesUpdate:
		if p.Message == nil || p.Chat == nil {
			return errors.New("message and chat are required")
		}
	case EventPresence:
		if len(p.Event) == 0 || p.Type == "" {
			return errors.New("event and type are required")
		}
	}
	return nil
}
