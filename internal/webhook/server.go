package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-router/internal/common"
)

var (
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_events_total",
		Help: "Total broker delivery callbacks processed",
	}, []string{"status"})
)

const (
	maxCallbackBody  = 1 << 20
	maxResponseBytes = 2048
)

type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Server struct {
	Producer EventWriter
	// Verifier is optional; without it callbacks are accepted unsigned.
	Verifier *Verifier
	// PublicURL is the callback URL registered with the broker, checked
	// against the token subject when set.
	PublicURL string
	Logger    zerolog.Logger
	now       func() time.Time
}

func NewServer(producer EventWriter, verifier *Verifier, publicURL string, logger zerolog.Logger) *Server {
	return &Server{
		Producer:  producer,
		Verifier:  verifier,
		PublicURL: publicURL,
		Logger:    logger,
		now:       time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/api/queue/callback", s.handle)
	return r
}

// Callback is the body QStash posts to the callback URL after each delivery
// attempt to the destination.
type Callback struct {
	Status          int                 `json:"status"`
	Header          map[string][]string `json:"header"`
	Body            string              `json:"body"`
	Retried         int                 `json:"retried"`
	MaxRetries      int                 `json:"maxRetries"`
	SourceMessageID string              `json:"sourceMessageId"`
	URL             string              `json:"url"`
	Method          string              `json:"method"`
	CreatedAt       int64               `json:"createdAt"`
}

type DeliveryEvent struct {
	MessageID   string    `json:"message_id"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	HTTPStatus  int       `json:"http_status"`
	Attempt     int       `json:"attempt"`
	MaxRetries  int       `json:"max_retries"`
	Response    string    `json:"response,omitempty"`
	Occurred    time.Time `json:"occurred_at"`
}

const (
	DeliveryDelivered = "delivered"
	DeliveryRetrying  = "retrying"
	DeliveryFailed    = "failed"
)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("callback").Start(r.Context(), "broker-callback")
	defer span.End()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	if s.Verifier != nil {
		if err := s.Verifier.Verify(r.Header.Get(SignatureHeader), raw, s.PublicURL); err != nil {
			s.respondErr(ctx, w, http.StatusUnauthorized, err)
			return
		}
	}

	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	event, err := s.normalize(cb)
	if err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	span.SetAttributes(
		attribute.String("message.id", event.MessageID),
		attribute.String("delivery.status", event.Status),
	)

	body, err := json.Marshal(event)
	if err != nil {
		s.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.MessageID),
		Value: body,
	}); err != nil {
		s.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}

	eventCounter.WithLabelValues(event.Status).Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) normalize(cb Callback) (DeliveryEvent, error) {
	if cb.SourceMessageID == "" {
		return DeliveryEvent{}, errors.New("sourceMessageId missing")
	}
	if cb.Status == 0 {
		return DeliveryEvent{}, errors.New("status missing")
	}

	status := DeliveryDelivered
	switch {
	case cb.Status >= 200 && cb.Status < 300:
	case cb.Retried >= cb.MaxRetries:
		status = DeliveryFailed
	default:
		status = DeliveryRetrying
	}

	occurred := s.now().UTC()
	if cb.CreatedAt > 0 {
		occurred = time.UnixMilli(cb.CreatedAt).UTC()
	}
	return DeliveryEvent{
		MessageID:   cb.SourceMessageID,
		Destination: cb.URL,
		Status:      status,
		HTTPStatus:  cb.Status,
		Attempt:     cb.Retried + 1,
		MaxRetries:  cb.MaxRetries,
		Response:    decodeBody(cb.Body),
		Occurred:    occurred,
	}, nil
}

// decodeBody returns the destination's response, truncated. Bodies that are
// not valid base64 are kept as sent.
func decodeBody(encoded string) string {
	out := encoded
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		out = string(decoded)
	}
	if len(out) > maxResponseBytes {
		out = out[:maxResponseBytes]
	}
	return out
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Int("status", status).Msg("callback handler error")
	eventCounter.WithLabelValues("error").Inc()
	http.Error(w, http.StatusText(status), status)
}
