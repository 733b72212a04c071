package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/message-router/internal/common"
)

const DefaultQStashURL = "https://qstash.upstash.io"

type QStashConfig struct {
	Token  string
	URL    string
	Client *http.Client
}

// QStash publishes payloads to the hosted broker. Delivery and retry
// guarantees after a successful publish belong to the broker.
type QStash struct {
	token   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewQStash(cfg QStashConfig, logger zerolog.Logger) *QStash {
	base := cfg.URL
	if base == "" {
		base = DefaultQStashURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &QStash{
		token:   cfg.Token,
		baseURL: strings.TrimRight(base, "/"),
		client:  client,
		logger:  logger,
	}
}

// NewQStashFromConfig returns nil when no token is configured, meaning
// queueing through the broker is disabled.
func NewQStashFromConfig(cfg *common.Config, logger zerolog.Logger) *QStash {
	if cfg.QStashToken == "" {
		logger.Warn().Msg("QSTASH_TOKEN not configured, broker queue disabled")
		return nil
	}
	return NewQStash(QStashConfig{Token: cfg.QStashToken, URL: cfg.QStashURL}, logger)
}

type Receipt struct {
	MessageID    string `json:"messageId"`
	URL          string `json:"url,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// PublishError describes a failed publish. StatusCode is zero when the
// broker was never reached.
type PublishError struct {
	Destination string
	StatusCode  int
	Message     string
	Err         error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("qstash publish failed: %d %s", e.StatusCode, e.Message)
	}
	return "qstash publish failed: " + e.Message
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publish enqueues payload for delivery to destination. It never panics;
// every failure comes back as a *PublishError.
func (q *QStash) Publish(ctx context.Context, destination string, payload Payload, opts ...Option) (Receipt, error) {
	o := buildOptions(opts)
	fail := func(status int, msg string, err error) (Receipt, error) {
		perr := &PublishError{Destination: destination, StatusCode: status, Message: msg, Err: err}
		q.logger.Error().Err(perr).Str("destination", destination).Msg("publish to qstash failed")
		return Receipt{}, perr
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(0, err.Error(), err)
	}

	endpoint := q.baseURL + "/v2/publish/" + url.PathEscape(destination)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(0, err.Error(), err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Forward-Upstash-Message-Id", "true")
	if o.Delay > 0 {
		req.Header.Set("Upstash-Delay", strconv.Itoa(delaySeconds(o.Delay))+"s")
	}
	req.Header.Set("Upstash-Retries", strconv.Itoa(o.Retries))
	if o.Callback != "" {
		req.Header.Set("Upstash-Callback", o.Callback)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fail(0, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(resp.StatusCode, err.Error(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(resp.StatusCode, strings.TrimSpace(string(raw)), nil)
	}

	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return fail(resp.StatusCode, "decode response: "+err.Error(), err)
	}
	q.logger.Debug().Str("message_id", receipt.MessageID).Str("destination", destination).Msg("published to qstash")
	return receipt, nil
}

// delaySeconds rounds d up to whole seconds, the broker's delay resolution.
func delaySeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

type MessageStatus struct {
	MessageID string              `json:"messageId"`
	URL       string              `json:"url,omitempty"`
	Method    string              `json:"method,omitempty"`
	Header    map[string][]string `json:"header,omitempty"`
	Body      string              `json:"body,omitempty"`
	CreatedAt int64               `json:"createdAt,omitempty"`
	NotBefore int64               `json:"notBefore,omitempty"`
	Raw       json.RawMessage     `json:"-"`
}

// GetStatus fetches the broker's view of messageID. Unlike Publish, a failed
// lookup is returned as a plain error for the caller to treat as fatal.
func (q *QStash) GetStatus(ctx context.Context, messageID string) (MessageStatus, error) {
	if messageID == "" {
		return MessageStatus{}, fmt.Errorf("get message status: empty message id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/v2/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return MessageStatus{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)

	resp, err := q.client.Do(req)
	if err != nil {
		return MessageStatus{}, fmt.Errorf("get message status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MessageStatus{}, fmt.Errorf("get message status: %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return MessageStatus{}, fmt.Errorf("read message status: %w", err)
	}
	var status MessageStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return MessageStatus{}, fmt.Errorf("decode message status: %w", err)
	}
	status.Raw = raw
	return status, nil
}
