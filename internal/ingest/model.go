package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/message-router/internal/routing"
)

const (
	EventMessages       = "messages"
	EventMessagesUpdate = "messages_update"
	EventPresence       = "presence"
	EventConnection     = "connection"
	EventContacts       = "contacts"
	EventGroups         = "groups"
)

// WebhookPayload is the envelope UAZ posts for every instance event.
type WebhookPayload struct {
	EventType string           `json:"EventType"`
	Owner     string           `json:"owner"`
	Token     string           `json:"token"`
	BaseURL   string           `json:"BaseUrl,omitempty"`
	Message   *routing.Message `json:"message,omitempty"`
	Chat      *Chat            `json:"chat,omitempty"`
	Event     json.RawMessage  `json:"event,omitempty"`
	Type      string           `json:"type,omitempty"`
}

type Chat struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	WAChatID string `json:"wa_chatid"`
	WAName   string `json:"wa_name"`
	IsGroup  bool   `json:"wa_isGroup"`
}

type Status string

const (
	StatusReceived   Status = "received"
	StatusSkipped    Status = "skipped"
	StatusReplied    Status = "replied"
	StatusPublished  Status = "published"
	StatusEnqueued   Status = "enqueued"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
)

// InboundMessage is the persisted record of one webhook message.
type InboundMessage struct {
	ID           string
	MessageKey   string
	Owner        string
	ChatID       string
	Sender       string
	ContentType  routing.ContentType
	Body         string
	Status       Status
	FirstContact bool
	CreatedAt    time.Time
}

type MessageRepository interface {
	// CreateMessage stores msg unless its MessageKey was seen before, in which
	// case the stored record is returned with duplicate=true.
	CreateMessage(ctx context.Context, msg InboundMessage) (saved InboundMessage, duplicate bool, err error)
	UpdateStatus(ctx context.Context, messageKey string, status Status, detail string) error
}
