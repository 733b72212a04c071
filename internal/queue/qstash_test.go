package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-router/internal/common"
)

type fakeBroker struct {
	mu       sync.Mutex
	token    string
	seq      int
	messages map[string]MessageStatus
	headers  http.Header
}

func newFakeBroker(token string) *fakeBroker {
	return &fakeBroker{token: token, messages: map[string]MessageStatus{}}
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+b.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v2/publish/"):
		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.seq++
		id := fmt.Sprintf("msg_%d", b.seq)
		body, _ := json.Marshal(payload)
		b.messages[id] = MessageStatus{
			MessageID: id,
			URL:       strings.TrimPrefix(r.URL.Path, "/v2/publish/"),
			Method:    http.MethodPost,
			Body:      string(body),
		}
		b.headers = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(map[string]any{"messageId": id})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/messages/"):
		status, ok := b.messages[strings.TrimPrefix(r.URL.Path, "/v2/messages/")]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(status)
	default:
		http.NotFound(w, r)
	}
}

func samplePayload() Payload {
	return Payload{
		Message:     "quanto gastei este mês?",
		UserID:      "user-1",
		PhoneNumber: "5511999999999",
		Context: PayloadContext{
			ConversationID: "5511999999999@s.whatsapp.net",
			SenderName:     "Maria",
		},
	}
}

func TestPublishRoundTrip(t *testing.T) {
	broker := newFakeBroker("secret")
	srv := httptest.NewServer(broker)
	defer srv.Close()

	client := NewQStash(QStashConfig{Token: "secret", URL: srv.URL}, zerolog.Nop())
	ctx := context.Background()

	receipt, err := client.Publish(ctx, "https://agent.example/process", samplePayload(),
		WithDelay(5*time.Second), WithCallback("https://router.example/api/queue/callback"))
	require.NoError(t, err)
	require.NotEmpty(t, receipt.MessageID)

	assert.Equal(t, "5s", broker.headers.Get("Upstash-Delay"))
	assert.Equal(t, "3", broker.headers.Get("Upstash-Retries"))
	assert.Equal(t, "https://router.example/api/queue/callback", broker.headers.Get("Upstash-Callback"))
	assert.Equal(t, "true", broker.headers.Get("Upstash-Forward-Upstash-Message-Id"))
	assert.Equal(t, "application/json", broker.headers.Get("Content-Type"))

	status, err := client.GetStatus(ctx, receipt.MessageID)
	require.NoError(t, err)
	assert.Equal(t, receipt.MessageID, status.MessageID)
	assert.Equal(t, "https://agent.example/process", status.URL)
	assert.Contains(t, status.Body, "quanto gastei")
	assert.NotEmpty(t, status.Raw)
}

func TestPublishOmitsOptionalHeaders(t *testing.T) {
	broker := newFakeBroker("secret")
	srv := httptest.NewServer(broker)
	defer srv.Close()

	client := NewQStash(QStashConfig{Token: "secret", URL: srv.URL}, zerolog.Nop())
	_, err := client.Publish(context.Background(), "https://agent.example/process", samplePayload(), WithRetries(0))
	require.NoError(t, err)

	assert.Empty(t, broker.headers.Get("Upstash-Delay"))
	assert.Empty(t, broker.headers.Get("Upstash-Callback"))
	assert.Equal(t, "0", broker.headers.Get("Upstash-Retries"))
}

func TestPublishRoundsDelayUp(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  string
	}{
		{300 * time.Millisecond, "1s"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "2s"},
	}
	for _, tc := range tests {
		t.Run(tc.delay.String(), func(t *testing.T) {
			broker := newFakeBroker("secret")
			srv := httptest.NewServer(broker)
			defer srv.Close()

			client := NewQStash(QStashConfig{Token: "secret", URL: srv.URL}, zerolog.Nop())
			_, err := client.Publish(context.Background(), "https://agent.example/process", samplePayload(), WithDelay(tc.delay))
			require.NoError(t, err)
			assert.Equal(t, tc.want, broker.headers.Get("Upstash-Delay"))
		})
	}
}

func TestPublishUnreachableBroker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewQStash(QStashConfig{Token: "secret", URL: url}, zerolog.Nop())

	var (
		receipt Receipt
		err     error
	)
	require.NotPanics(t, func() {
		receipt, err = client.Publish(context.Background(), "https://agent.example/process", samplePayload())
	})
	require.Error(t, err)
	assert.Empty(t, receipt.MessageID)

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, perr.StatusCode)
	assert.NotEmpty(t, perr.Message)
}

func TestPublishNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewQStash(QStashConfig{Token: "secret", URL: srv.URL}, zerolog.Nop())
	_, err := client.Publish(context.Background(), "https://agent.example/process", samplePayload())

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, "qstash publish failed: 429 quota exceeded", perr.Error())
}

func TestGetStatusFailure(t *testing.T) {
	broker := newFakeBroker("secret")
	srv := httptest.NewServer(broker)
	defer srv.Close()

	client := NewQStash(QStashConfig{Token: "secret", URL: srv.URL}, zerolog.Nop())
	_, err := client.GetStatus(context.Background(), "msg_missing")
	assert.Error(t, err)

	_, err = client.GetStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestNewQStashFromConfigWithoutToken(t *testing.T) {
	assert.Nil(t, NewQStashFromConfig(&common.Config{}, zerolog.Nop()))

	client := NewQStashFromConfig(&common.Config{QStashToken: "t", QStashURL: "https://broker.example/"}, zerolog.Nop())
	require.NotNil(t, client)
	assert.Equal(t, "https://broker.example", client.baseURL)
}
