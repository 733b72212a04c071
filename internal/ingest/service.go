package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/reply"
	"github.com/example/message-router/internal/routing"
)

var routedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_messages_routed_total",
	Help: "Inbound messages by content type and routing outcome",
}, []string{"content_type", "outcome"})

type Publisher interface {
	Publish(ctx context.Context, destination string, payload queue.Payload, opts ...queue.Option) (queue.Receipt, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, destination string, payload queue.Payload, opts ...queue.Option) (string, error)
}

type Forwarder interface {
	Forward(ctx context.Context, route routing.RouteConfig, destination string, payload queue.Payload) error
}

// Deps wires the service. Publisher and Enqueuer are optional; when both are
// nil messages are forwarded synchronously.
type Deps struct {
	Repo        MessageRepository
	Routes      *routing.Table
	Replier     reply.Provider
	Publisher   Publisher
	Enqueuer    Enqueuer
	Forwarder   Forwarder
	AgentURL    string
	CallbackURL string
	Logger      zerolog.Logger
}

type Service struct {
	Deps
	now func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("ingest service requires a repository")
	case deps.Routes == nil:
		return nil, errors.New("ingest service requires a route table")
	case deps.Replier == nil:
		return nil, errors.New("ingest service requires a reply provider")
	case deps.Forwarder == nil:
		return nil, errors.New("ingest service requires a forwarder")
	case deps.AgentURL == "":
		return nil, errors.New("ingest service requires the agent base url")
	}
	return &Service{Deps: deps, now: time.Now}, nil
}

type Outcome struct {
	Status      Status
	ContentType routing.ContentType
	// Reference is the broker message id or local job id, when queued.
	Reference string
	Reason    string
}

// Handle routes one inbound message. Errors are returned only when the
// message could not be recorded or delivered anywhere.
func (s *Service) Handle(ctx context.Context, owner string, chat Chat, msg routing.Message) (Outcome, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "route-message")
	defer span.End()
	logger := common.WithContext(ctx, s.Logger).With().Str("message_key", msg.Key()).Logger()

	if ok, reason := routing.ShouldProcess(msg); !ok {
		logger.Debug().Str("reason", reason).Msg("message skipped")
		return Outcome{Status: StatusSkipped, Reason: reason}, nil
	}
	if msg.Key() == "" {
		return Outcome{}, errors.New("message id is required")
	}

	analysis := routing.Classify(msg)
	span.SetAttributes(
		attribute.String("message.key", msg.Key()),
		attribute.String("message.content_type", string(analysis.ContentType)),
	)

	chatID := firstNonEmpty(msg.ChatID, chat.WAChatID, chat.ID)
	saved, duplicate, err := s.Repo.CreateMessage(ctx, InboundMessage{
		ID:          uuid.NewString(),
		MessageKey:  msg.Key(),
		Owner:       owner,
		ChatID:      chatID,
		Sender:      firstNonEmpty(msg.Sender, chatID),
		ContentType: analysis.ContentType,
		Body:        msg.Body(),
		Status:      StatusReceived,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record message: %w", err)
	}
	if duplicate {
		logger.Info().Str("status", string(saved.Status)).Msg("duplicate webhook delivery ignored")
		return Outcome{Status: StatusSkipped, ContentType: analysis.ContentType, Reason: "duplicate"}, nil
	}

	out, err := s.route(ctx, logger, analysis.ContentType, chat, msg, saved)
	out.ContentType = analysis.ContentType
	if err != nil {
		out.Status = StatusFailed
		routedCounter.WithLabelValues(string(analysis.ContentType), string(StatusFailed)).Inc()
		s.record(ctx, logger, msg.Key(), StatusFailed, err.Error())
		return out, err
	}
	routedCounter.WithLabelValues(string(analysis.ContentType), string(out.Status)).Inc()
	s.record(ctx, logger, msg.Key(), out.Status, out.Reference)
	return out, nil
}

func (s *Service) route(ctx context.Context, logger zerolog.Logger, ct routing.ContentType, chat Chat, msg routing.Message, saved InboundMessage) (Outcome, error) {
	route, ok := s.Routes.Lookup(ct)
	if !ok || route.IsLocal() {
		text := s.Routes.Reply(ct)
		if err := s.Replier.Send(ctx, reply.Message{Number: reply.NumberFromChatID(saved.ChatID), Text: text}); err != nil {
			return Outcome{}, fmt.Errorf("send auto-reply via %s: %w", s.Replier.Name(), err)
		}
		logger.Info().Str("content_type", string(ct)).Msg("auto-reply sent")
		return Outcome{Status: StatusReplied}, nil
	}

	destination := routing.URL(s.AgentURL, route)
	payload := buildPayload(chat, msg, saved)

	if s.Publisher != nil {
		opts := []queue.Option{queue.WithRetries(route.Retries)}
		if s.CallbackURL != "" {
			opts = append(opts, queue.WithCallback(s.CallbackURL))
		}
		receipt, err := s.Publisher.Publish(ctx, destination, payload, opts...)
		if err == nil {
			logger.Info().Str("qstash_message_id", receipt.MessageID).Str("destination", destination).Msg("message published")
			return Outcome{Status: StatusPublished, Reference: receipt.MessageID}, nil
		}
		logger.Warn().Err(err).Msg("broker publish failed, falling back")
	}

	if s.Enqueuer != nil {
		jobID, err := s.Enqueuer.Enqueue(ctx, destination, payload, queue.WithRetries(route.Retries))
		if err == nil {
			return Outcome{Status: StatusEnqueued, Reference: jobID}, nil
		}
		logger.Warn().Err(err).Msg("local enqueue failed, forwarding synchronously")
	}

	if err := s.Forwarder.Forward(ctx, route, destination, payload); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusDispatched}, nil
}

func (s *Service) record(ctx context.Context, logger zerolog.Logger, key string, status Status, detail string) {
	if err := s.Repo.UpdateStatus(ctx, key, status, detail); err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("update message status failed")
	}
}

func buildPayload(chat Chat, msg routing.Message, saved InboundMessage) queue.Payload {
	senderName := firstNonEmpty(msg.SenderName, chat.WAName)
	chatName := firstNonEmpty(chat.Name, msg.GroupName, chat.WAName)
	p := queue.Payload{
		Message:     msg.Body(),
		UserID:      saved.Sender,
		PhoneNumber: phoneFromJID(saved.Sender),
		Context: queue.PayloadContext{
			ConversationID: saved.ChatID,
			ChatName:       chatName,
			SenderName:     senderName,
			IsGroup:        msg.IsGroup || chat.IsGroup,
			UserName:       senderName,
			IsNewUser:      saved.FirstContact,
		},
	}
	if media := routing.ExtractMedia(msg); media.HasMedia {
		p.Message = firstNonEmpty(msg.Text, media.Caption)
		p.Media = &queue.PayloadMedia{
			Type:       media.Type,
			URL:        media.URL,
			Mimetype:   media.Mimetype,
			HasCaption: media.Caption != "",
		}
	}
	return p
}

func phoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
