package queue

import (
	"errors"
	"time"
)

// Payload is the body handed to the agent service for one inbound message.
type Payload struct {
	Message     string         `json:"message"`
	UserID      string         `json:"userId"`
	PhoneNumber string         `json:"phoneNumber"`
	Context     PayloadContext `json:"context"`
	Media       *PayloadMedia  `json:"media,omitempty"`
}

// PayloadMedia points the agent at the attachment of a media message.
type PayloadMedia struct {
	Type       string `json:"type,omitempty"`
	URL        string `json:"url"`
	Mimetype   string `json:"mimetype,omitempty"`
	HasCaption bool   `json:"hasCaption"`
}

type PayloadContext struct {
	ConversationID string `json:"conversationId"`
	ChatName       string `json:"chatName,omitempty"`
	SenderName     string `json:"senderName,omitempty"`
	IsGroup        bool   `json:"isGroup,omitempty"`
	UserName       string `json:"userName,omitempty"`
	IsNewUser      bool   `json:"isNewUser,omitempty"`
}

func (p Payload) Validate() error {
	if p.UserID == "" {
		return errors.New("userId is required")
	}
	if p.PhoneNumber == "" {
		return errors.New("phoneNumber is required")
	}
	if p.Context.ConversationID == "" {
		return errors.New("context.conversationId is required")
	}
	return nil
}

const DefaultRetries = 3

// Options are shared by QStash publishes and local enqueues. Callback is
// only honoured by the broker.
type Options struct {
	Delay    time.Duration
	Retries  int
	Callback string
}

type Option func(*Options)

func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

func WithRetries(n int) Option {
	return func(o *Options) { o.Retries = n }
}

func WithCallback(url string) Option {
	return func(o *Options) { o.Callback = url }
}

func buildOptions(opts []Option) Options {
	o := Options{Retries: DefaultRetries}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}
